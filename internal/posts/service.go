package posts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingLedger     = errors.New("coin ledger is required")
	errMissingZone       = errors.New("reference timezone is required")
	noOpLogger           = zap.NewNop()
)

var (
	// ErrPostNotFound indicates the post is absent or not visible to readers.
	ErrPostNotFound = errors.New("posts: post not found")
	// ErrInsufficientCoin indicates the reader's balance could not cover the read charge.
	ErrInsufficientCoin = errors.New("posts: not enough coin")
	// ErrInvalidInput indicates a non-positive count or size parameter.
	ErrInvalidInput = errors.New("posts: invalid input")
)

// ServiceError carries a dotted operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "posts.service.new"
	opCreatePost  = "posts.create"
	opReadPost    = "posts.read"
	opListPosts   = "posts.list"
	opListMine    = "posts.list_mine"
	opListRead    = "posts.list_read"
	opRandomPosts = "posts.random"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// CoinLedger is the balance contract the orchestrator consumes. The service
// never reads or writes wallet rows directly; every balance mutation goes
// through the ledger's atomic reward and conditional-charge primitives.
type CoinLedger interface {
	Reward(ctx context.Context, userID string, amount int64) (int64, error)
	ChargeIfSufficient(ctx context.Context, userID string, amount int64) (bool, error)
	GetBalance(ctx context.Context, userID string) (int64, error)
}

// IDProvider issues identifiers for new posts.
type IDProvider interface {
	NewID() (string, error)
}

const (
	defaultPostReward = 1
	defaultReadCost   = 1
)

// ServiceConfig describes the dependencies of the post service.
type ServiceConfig struct {
	Database   *gorm.DB
	Ledger     CoinLedger
	IDProvider IDProvider
	Zone       *time.Location
	Clock      func() time.Time
	Logger     *zap.Logger
	PostReward int64
	ReadCost   int64
}

// Service orchestrates post creation, reading, listing, and random sampling.
type Service struct {
	db         *gorm.DB
	ledger     CoinLedger
	idProvider IDProvider
	gate       *Gate
	sampler    *Sampler
	zone       *time.Location
	clock      func() time.Time
	logger     *zap.Logger
	postReward int64
	readCost   int64
}

// NewService constructs the post service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Ledger == nil {
		return nil, newServiceError(opServiceNew, "missing_ledger", errMissingLedger)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Zone == nil {
		return nil, newServiceError(opServiceNew, "missing_zone", errMissingZone)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	postReward := cfg.PostReward
	if postReward <= 0 {
		postReward = defaultPostReward
	}
	readCost := cfg.ReadCost
	if readCost <= 0 {
		readCost = defaultReadCost
	}

	gate, err := NewGate(GateConfig{Database: cfg.Database, Clock: clock, Zone: cfg.Zone})
	if err != nil {
		return nil, newServiceError(opServiceNew, "gate_init_failed", err)
	}
	sampler, err := NewSampler(cfg.Database)
	if err != nil {
		return nil, newServiceError(opServiceNew, "sampler_init_failed", err)
	}

	return &Service{
		db:         cfg.Database,
		ledger:     cfg.Ledger,
		idProvider: cfg.IDProvider,
		gate:       gate,
		sampler:    sampler,
		zone:       cfg.Zone,
		clock:      clock,
		logger:     logger,
		postReward: postReward,
		readCost:   readCost,
	}, nil
}

// CreateRequest describes the input for a new post.
type CreateRequest struct {
	UserID  UserID
	Title   string
	Content string
	Type    PostType
	Tags    []string
}

// CreateResult is the outcome of a successful post creation.
type CreateResult struct {
	PostID      string
	TotalPosts  int64
	CoinBalance int64
	FirstToday  bool
	Weekly      *WeeklyProgress
}

// CreatePost validates the content, rewards the author, persists the post,
// and fires the daily first-write gate. The reward and the persist are hard
// steps; gate firing and the weekly summary are enrichments that degrade to
// FirstToday=false and an absent summary rather than failing the call.
func (s *Service) CreatePost(ctx context.Context, request CreateRequest) (CreateResult, error) {
	if err := ValidateContent(request.Type, request.Title, request.Content); err != nil {
		return CreateResult{}, newServiceError(opCreatePost, "invalid_content", err)
	}

	balance, err := s.ledger.Reward(ctx, request.UserID.String(), s.postReward)
	if err != nil {
		s.logError(opCreatePost, "reward_failed", err, zap.String("user_id", request.UserID.String()))
		return CreateResult{}, newServiceError(opCreatePost, "reward_failed", err)
	}

	postID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreatePost, "id_generation_failed", err)
		return CreateResult{}, newServiceError(opCreatePost, "id_generation_failed", err)
	}

	post := Post{
		ID:               postID,
		Title:            request.Title,
		Content:          request.Content,
		UserID:           request.UserID.String(),
		Type:             request.Type,
		Status:           PostStatusActive,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	tagRecords := tagRecordsFor(postID, request.Tags)

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&post).Error; err != nil {
			return err
		}
		if len(tagRecords) > 0 {
			if err := tx.Create(&tagRecords).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		s.logError(opCreatePost, "post_insert_failed", txErr, zap.String("user_id", request.UserID.String()))
		return CreateResult{}, newServiceError(opCreatePost, "post_insert_failed", txErr)
	}

	firstToday, gateErr := s.gate.FireDailyFirstWrite(ctx, request.UserID)
	if gateErr != nil {
		// The post is already durable; a gate outage must not fail the call.
		s.logger.Warn("daily first-write gate unavailable",
			zap.String("user_id", request.UserID.String()),
			zap.Error(gateErr))
		firstToday = false
	}

	var totalPosts int64
	if err := s.db.WithContext(ctx).Model(&Post{}).
		Where("user_id = ?", request.UserID.String()).
		Count(&totalPosts).Error; err != nil {
		s.logError(opCreatePost, "count_failed", err, zap.String("user_id", request.UserID.String()))
		return CreateResult{}, newServiceError(opCreatePost, "count_failed", err)
	}

	var weekly *WeeklyProgress
	if firstToday {
		weekly, err = s.computeWeeklyProgress(ctx, request.UserID)
		if err != nil {
			s.logger.Warn("weekly progress compute failed",
				zap.String("user_id", request.UserID.String()),
				zap.String("post_id", postID),
				zap.Error(err))
			weekly = nil
		}
	}

	return CreateResult{
		PostID:      postID,
		TotalPosts:  totalPosts,
		CoinBalance: balance,
		FirstToday:  firstToday,
		Weekly:      weekly,
	}, nil
}

// DetailResult bundles a post detail with the reader's resulting balance.
type DetailResult struct {
	Post        Post
	CoinBalance int64
}

// GetPostByID serves a single active post under the exactly-once read charge.
// The read marker is created before the charge, so a failed charge leaves the
// read consumed without payment collected: a later retry of the same read is
// not first and therefore neither charges nor fails. This mark-before-charge
// ordering is deliberate; see DESIGN.md.
func (s *Service) GetPostByID(ctx context.Context, postID PostID, userID UserID) (DetailResult, error) {
	var post Post
	err := s.db.WithContext(ctx).
		Where("id = ? AND status = ?", postID.String(), PostStatusActive).
		Take(&post).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DetailResult{}, newServiceError(opReadPost, "not_found", ErrPostNotFound)
	}
	if err != nil {
		s.logError(opReadPost, "post_select_failed", err, zap.String("post_id", postID.String()))
		return DetailResult{}, newServiceError(opReadPost, "post_select_failed", err)
	}

	isOwner := post.UserID == userID.String()

	firstRead, err := s.gate.FireFirstRead(ctx, userID, postID)
	if err != nil {
		s.logError(opReadPost, "read_marker_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("post_id", postID.String()))
		return DetailResult{}, newServiceError(opReadPost, "read_marker_failed", err)
	}

	if firstRead && !isOwner {
		charged, err := s.ledger.ChargeIfSufficient(ctx, userID.String(), s.readCost)
		if err != nil {
			s.logError(opReadPost, "charge_failed", err, zap.String("user_id", userID.String()))
			return DetailResult{}, newServiceError(opReadPost, "charge_failed", err)
		}
		if !charged {
			s.logger.Warn("reader cannot afford post",
				zap.String("user_id", userID.String()),
				zap.String("post_id", postID.String()))
			return DetailResult{}, newServiceError(opReadPost, "not_enough_coin", ErrInsufficientCoin)
		}
	}

	if firstRead {
		if err := s.incrementViews(ctx, postID); err != nil {
			s.logError(opReadPost, "view_increment_failed", err, zap.String("post_id", postID.String()))
			return DetailResult{}, newServiceError(opReadPost, "view_increment_failed", err)
		}
	}

	balance, err := s.ledger.GetBalance(ctx, userID.String())
	if err != nil {
		s.logError(opReadPost, "balance_read_failed", err, zap.String("user_id", userID.String()))
		return DetailResult{}, newServiceError(opReadPost, "balance_read_failed", err)
	}

	if err := s.attachTags(ctx, []*Post{&post}); err != nil {
		s.logError(opReadPost, "tags_load_failed", err, zap.String("post_id", postID.String()))
		return DetailResult{}, newServiceError(opReadPost, "tags_load_failed", err)
	}

	return DetailResult{Post: post, CoinBalance: balance}, nil
}

// PreviewList bundles post previews with the caller's current balance.
type PreviewList struct {
	Posts       []Post
	CoinBalance int64
}

// ListPreviews returns active posts by other members, newest first.
func (s *Service) ListPreviews(ctx context.Context, userID UserID) (PreviewList, error) {
	return s.listPreviews(ctx, userID, "")
}

// ListPreviewsByType returns active posts of one type by other members,
// newest first.
func (s *Service) ListPreviewsByType(ctx context.Context, postType PostType, userID UserID) (PreviewList, error) {
	return s.listPreviews(ctx, userID, postType)
}

func (s *Service) listPreviews(ctx context.Context, userID UserID, postType PostType) (PreviewList, error) {
	balance, err := s.ledger.GetBalance(ctx, userID.String())
	if err != nil {
		s.logError(opListPosts, "balance_read_failed", err, zap.String("user_id", userID.String()))
		return PreviewList{}, newServiceError(opListPosts, "balance_read_failed", err)
	}

	query := s.db.WithContext(ctx).
		Where("status = ? AND user_id <> ?", PostStatusActive, userID.String())
	if postType != "" {
		query = query.Where("type = ?", postType)
	}

	var found []Post
	if err := query.Order("created_at_s DESC").Find(&found).Error; err != nil {
		s.logError(opListPosts, "query_failed", err, zap.String("user_id", userID.String()))
		return PreviewList{}, newServiceError(opListPosts, "query_failed", err)
	}
	if err := s.attachTagsToSlice(ctx, found); err != nil {
		s.logError(opListPosts, "tags_load_failed", err)
		return PreviewList{}, newServiceError(opListPosts, "tags_load_failed", err)
	}

	return PreviewList{Posts: found, CoinBalance: balance}, nil
}

// RandomPreviews returns at most count random active posts by other members.
// The tag filter is chosen from the requested labels by priority order and
// the reroll step; step two and beyond fall back to unfiltered sampling.
func (s *Service) RandomPreviews(ctx context.Context, count int, tags []string, rerollStep int, userID UserID) (PreviewList, error) {
	if count <= 0 {
		return PreviewList{}, newServiceError(opRandomPosts, "invalid_count", ErrInvalidInput)
	}

	balance, err := s.ledger.GetBalance(ctx, userID.String())
	if err != nil {
		s.logError(opRandomPosts, "balance_read_failed", err, zap.String("user_id", userID.String()))
		return PreviewList{}, newServiceError(opRandomPosts, "balance_read_failed", err)
	}

	selectedTag := ResolveTagForStep(tags, rerollStep)
	sampled, err := s.sampler.Sample(ctx, PostStatusActive, selectedTag, userID, count)
	if err != nil {
		s.logError(opRandomPosts, "sample_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("tag", selectedTag))
		return PreviewList{}, newServiceError(opRandomPosts, "sample_failed", err)
	}
	if err := s.attachTagsToSlice(ctx, sampled); err != nil {
		s.logError(opRandomPosts, "tags_load_failed", err)
		return PreviewList{}, newServiceError(opRandomPosts, "tags_load_failed", err)
	}

	return PreviewList{Posts: sampled, CoinBalance: balance}, nil
}

// ListMine returns the caller's own active posts, newest first.
func (s *Service) ListMine(ctx context.Context, userID UserID) ([]Post, error) {
	var found []Post
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID.String(), PostStatusActive).
		Order("created_at_s DESC").
		Find(&found).Error
	if err != nil {
		s.logError(opListMine, "query_failed", err, zap.String("user_id", userID.String()))
		return nil, newServiceError(opListMine, "query_failed", err)
	}
	if err := s.attachTagsToSlice(ctx, found); err != nil {
		s.logError(opListMine, "tags_load_failed", err)
		return nil, newServiceError(opListMine, "tags_load_failed", err)
	}
	return found, nil
}

// ListRead returns the active posts the caller has read, most recent read
// first. Posts that have since left the active status are skipped.
func (s *Service) ListRead(ctx context.Context, userID UserID) (PreviewList, error) {
	balance, err := s.ledger.GetBalance(ctx, userID.String())
	if err != nil {
		s.logError(opListRead, "balance_read_failed", err, zap.String("user_id", userID.String()))
		return PreviewList{}, newServiceError(opListRead, "balance_read_failed", err)
	}

	var markers []ReadMarker
	err = s.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("read_at_s DESC").
		Find(&markers).Error
	if err != nil {
		s.logError(opListRead, "marker_query_failed", err, zap.String("user_id", userID.String()))
		return PreviewList{}, newServiceError(opListRead, "marker_query_failed", err)
	}
	if len(markers) == 0 {
		return PreviewList{CoinBalance: balance}, nil
	}

	postIDs := make([]string, 0, len(markers))
	for _, marker := range markers {
		postIDs = append(postIDs, marker.PostID)
	}

	var found []Post
	err = s.db.WithContext(ctx).
		Where("id IN ? AND status = ?", postIDs, PostStatusActive).
		Find(&found).Error
	if err != nil {
		s.logError(opListRead, "post_query_failed", err, zap.String("user_id", userID.String()))
		return PreviewList{}, newServiceError(opListRead, "post_query_failed", err)
	}

	postByID := make(map[string]Post, len(found))
	for _, post := range found {
		postByID[post.ID] = post
	}
	ordered := make([]Post, 0, len(found))
	for _, marker := range markers {
		if post, active := postByID[marker.PostID]; active {
			ordered = append(ordered, post)
		}
	}
	if err := s.attachTagsToSlice(ctx, ordered); err != nil {
		s.logError(opListRead, "tags_load_failed", err)
		return PreviewList{}, newServiceError(opListRead, "tags_load_failed", err)
	}

	return PreviewList{Posts: ordered, CoinBalance: balance}, nil
}

// incrementViews bumps the view counter with a single atomic column update so
// concurrent first reads never lose an increment.
func (s *Service) incrementViews(ctx context.Context, postID PostID) error {
	return s.db.WithContext(ctx).
		Model(&Post{}).
		Where("id = ?", postID.String()).
		UpdateColumn("views", gorm.Expr("views + ?", 1)).Error
}

func (s *Service) attachTagsToSlice(ctx context.Context, found []Post) error {
	refs := make([]*Post, 0, len(found))
	for i := range found {
		refs = append(refs, &found[i])
	}
	return s.attachTags(ctx, refs)
}

func (s *Service) attachTags(ctx context.Context, found []*Post) error {
	if len(found) == 0 {
		return nil
	}
	postIDs := make([]string, 0, len(found))
	for _, post := range found {
		postIDs = append(postIDs, post.ID)
	}

	var records []PostTagRecord
	if err := s.db.WithContext(ctx).Where("post_id IN ?", postIDs).Find(&records).Error; err != nil {
		return err
	}

	labelsByPost := make(map[string][]string, len(found))
	for _, record := range records {
		labelsByPost[record.PostID] = append(labelsByPost[record.PostID], record.Label)
	}
	for _, post := range found {
		post.Tags = SortTagsByPriority(labelsByPost[post.ID])
	}
	return nil
}

func tagRecordsFor(postID string, labels []string) []PostTagRecord {
	normalized := SortTagsByPriority(labels)
	records := make([]PostTagRecord, 0, len(normalized))
	for _, label := range normalized {
		records = append(records, PostTagRecord{PostID: postID, Label: label})
	}
	return records
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("posts service error", attrs...)
}
