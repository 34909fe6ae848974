package posts

import (
	"errors"
	"fmt"
	"strings"
)

// PostType enumerates the supported writing formats. Each type bounds the
// content length accepted at creation time.
type PostType string

const (
	// PostTypeShort is a brief note.
	PostTypeShort PostType = "short"
	// PostTypeLong is a full diary entry.
	PostTypeLong PostType = "long"
	// PostTypeToday is a one-line prompt answer.
	PostTypeToday PostType = "today"
)

// PostStatus enumerates post visibility states.
type PostStatus string

const (
	// PostStatusActive marks a post visible to readers.
	PostStatusActive PostStatus = "active"
	// PostStatusPending marks a post held back by moderation.
	PostStatusPending PostStatus = "pending"
	// PostStatusDeleted marks a soft-deleted post.
	PostStatusDeleted PostStatus = "deleted"
)

const maxIdentifierLength = 190

var contentLimitByType = map[PostType]int{
	PostTypeShort: 300,
	PostTypeLong:  3000,
	PostTypeToday: 100,
}

var (
	// ErrInvalidPostID indicates that a post identifier is empty or exceeds storage bounds.
	ErrInvalidPostID = errors.New("posts: invalid post id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("posts: invalid user id")
	// ErrInvalidContent indicates a blank title or content exceeding the type's length bound.
	ErrInvalidContent = errors.New("posts: invalid content")
	// ErrInvalidPostType indicates an unknown post type token.
	ErrInvalidPostType = errors.New("posts: invalid post type")
	// ErrInvalidTransition indicates a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("posts: invalid status transition")
)

// PostID represents a validated post identifier.
type PostID string

// NewPostID validates raw input and returns a PostID.
func NewPostID(rawInput string) (PostID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPostID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidPostID, maxIdentifierLength)
	}
	return PostID(trimmed), nil
}

// String returns the underlying string identifier.
func (id PostID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// ParsePostType converts a wire token into a PostType.
func ParsePostType(value string) (PostType, error) {
	switch PostType(strings.ToLower(strings.TrimSpace(value))) {
	case PostTypeShort:
		return PostTypeShort, nil
	case PostTypeLong:
		return PostTypeLong, nil
	case PostTypeToday:
		return PostTypeToday, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPostType, value)
	}
}

// ValidateContent checks that the title is non-blank and the content fits the
// type's length bound. It is called before any side effect of post creation.
func ValidateContent(postType PostType, title, content string) error {
	limit, ok := contentLimitByType[postType]
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPostType, postType)
	}
	if strings.TrimSpace(title) == "" {
		return fmt.Errorf("%w: blank title", ErrInvalidContent)
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: blank content", ErrInvalidContent)
	}
	if len([]rune(content)) > limit {
		return fmt.Errorf("%w: content exceeds %d characters for type %s", ErrInvalidContent, limit, postType)
	}
	return nil
}

// Post models a persisted piece of writing. View and like counters are only
// ever mutated through atomic column increments, never through Save.
type Post struct {
	ID               string     `gorm:"column:id;primaryKey;size:190;not null"`
	Title            string     `gorm:"column:title;size:190;not null"`
	Content          string     `gorm:"column:content;type:text;not null"`
	UserID           string     `gorm:"column:user_id;size:190;not null;index:idx_posts_user_status,priority:1"`
	Type             PostType   `gorm:"column:type;size:32;not null"`
	Status           PostStatus `gorm:"column:status;size:32;not null;index:idx_posts_user_status,priority:2;index:idx_posts_status_created,priority:1"`
	Views            int64      `gorm:"column:views;not null;default:0"`
	Likes            int64      `gorm:"column:likes;not null;default:0"`
	CreatedAtSeconds int64      `gorm:"column:created_at_s;not null;index:idx_posts_status_created,priority:2"`
	Tags             []string   `gorm:"-"`
}

// TableName provides the explicit table binding for GORM.
func (Post) TableName() string {
	return "posts"
}

// PostTagRecord stores one tag label attached to a post. Labels are held in
// their canonical upper-case form.
type PostTagRecord struct {
	PostID string `gorm:"column:post_id;primaryKey;size:190;not null"`
	Label  string `gorm:"column:label;primaryKey;size:64;not null;index:idx_post_tags_label"`
}

// TableName provides the explicit table binding for GORM.
func (PostTagRecord) TableName() string {
	return "post_tags"
}

// WithStatus returns a copy of the post moved to the target status. Posts are
// treated as immutable values; the persistence layer applies the transition
// atomically by id. Allowed transitions: active<->pending (moderation toggle)
// and active/pending->deleted. Deleted is terminal.
func (p Post) WithStatus(target PostStatus) (Post, error) {
	if p.Status == target {
		return p, nil
	}
	switch {
	case p.Status == PostStatusDeleted:
		return Post{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, target)
	case target == PostStatusDeleted, target == PostStatusActive, target == PostStatusPending:
		next := p
		next.Status = target
		return next, nil
	default:
		return Post{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, target)
	}
}
