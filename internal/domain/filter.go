package domain

import (
	"errors"
	"strings"
)

// FilterKind tags a ContentFilter node.
type FilterKind string

const (
	FilterStatus     FilterKind = "status"      // Value: content status
	FilterSearch     FilterKind = "search"      // Value: case-insensitive title substring
	FilterFollowedBy FilterKind = "followed_by" // Value: follower user id
	FilterAll        FilterKind = "all"         // Children combined with AND
	FilterAny        FilterKind = "any"         // Children combined with OR
)

// maxFilterDepth bounds nesting so a hostile query string cannot build an
// arbitrarily deep predicate tree.
const maxFilterDepth = 4

// ErrInvalidFilter is returned by Validate for malformed filter trees.
var ErrInvalidFilter = errors.New("invalid content filter")

// ContentFilter is a tagged variant of content list predicates. Leaves carry
// a Value; All and Any carry Children. The zero value matches everything.
type ContentFilter struct {
	Kind     FilterKind      `json:"kind,omitempty"`
	Value    string          `json:"value,omitempty"`
	Children []ContentFilter `json:"children,omitempty"`
}

// StatusIs matches content in the given lifecycle status.
func StatusIs(status string) ContentFilter {
	return ContentFilter{Kind: FilterStatus, Value: status}
}

// TitleContains matches content whose title contains term.
func TitleContains(term string) ContentFilter {
	return ContentFilter{Kind: FilterSearch, Value: term}
}

// FollowedBy matches content owned by someone userID follows.
func FollowedBy(userID string) ContentFilter {
	return ContentFilter{Kind: FilterFollowedBy, Value: userID}
}

// All matches when every child matches. Zero-valued children are dropped.
func All(fs ...ContentFilter) ContentFilter {
	return ContentFilter{Kind: FilterAll, Children: compact(fs)}
}

// Any matches when at least one child matches. Zero-valued children are dropped.
func Any(fs ...ContentFilter) ContentFilter {
	return ContentFilter{Kind: FilterAny, Children: compact(fs)}
}

// IsZero reports whether f places no constraint.
func (f ContentFilter) IsZero() bool {
	return f.Kind == "" || (f.Kind == FilterAll && len(f.Children) == 0)
}

// Validate checks kinds, values and nesting depth.
func (f ContentFilter) Validate() error {
	return f.validate(0)
}

func (f ContentFilter) validate(depth int) error {
	if depth > maxFilterDepth {
		return ErrInvalidFilter
	}
	switch f.Kind {
	case "":
		return nil
	case FilterStatus:
		switch f.Value {
		case ContentPublished, ContentHidden, ContentArchived:
			return nil
		}
		return ErrInvalidFilter
	case FilterSearch, FilterFollowedBy:
		if strings.TrimSpace(f.Value) == "" || len(f.Value) > 128 {
			return ErrInvalidFilter
		}
		return nil
	case FilterAll, FilterAny:
		for _, c := range f.Children {
			if err := c.validate(depth + 1); err != nil {
				return err
			}
		}
		return nil
	default:
		return ErrInvalidFilter
	}
}

func compact(fs []ContentFilter) []ContentFilter {
	out := make([]ContentFilter, 0, len(fs))
	for _, f := range fs {
		if f.Kind != "" {
			out = append(out, f)
		}
	}
	return out
}
