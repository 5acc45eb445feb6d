package feed

import (
	"errors"
	"fmt"
	"strings"
)

// Topic is the logical scope of one feed window: the global post feed, one
// post's comments, or one user's notifications.
type Topic string

const (
	topicPosts         = "posts"
	topicCommentsPfx   = "comments:"
	topicNotifsPfx     = "notifications:"
	maxTopicScopeChars = 64
)

// PostsTopic is the global post feed.
func PostsTopic() Topic { return Topic(topicPosts) }

// CommentsTopic scopes a window to one post's comments.
func CommentsTopic(postID string) Topic {
	return Topic(topicCommentsPfx + postID)
}

// NotificationsTopic scopes a window to one user's notifications.
func NotificationsTopic(userID string) Topic {
	return Topic(topicNotifsPfx + userID)
}

// Kind returns the item kind carried by this topic.
func (t Topic) Kind() Kind {
	switch {
	case strings.HasPrefix(string(t), topicCommentsPfx):
		return KindComment
	case strings.HasPrefix(string(t), topicNotifsPfx):
		return KindNotification
	default:
		return KindPost
	}
}

// Scope returns the post id (comments) or user id (notifications) the topic
// is bound to, or "" for the global post feed.
func (t Topic) Scope() string {
	s := string(t)
	switch {
	case strings.HasPrefix(s, topicCommentsPfx):
		return s[len(topicCommentsPfx):]
	case strings.HasPrefix(s, topicNotifsPfx):
		return s[len(topicNotifsPfx):]
	default:
		return ""
	}
}

// Validate performs structural validation for a Topic.
func (t Topic) Validate() error {
	s := string(t)
	if s == topicPosts {
		return nil
	}

	var scope string
	switch {
	case strings.HasPrefix(s, topicCommentsPfx):
		scope = s[len(topicCommentsPfx):]
	case strings.HasPrefix(s, topicNotifsPfx):
		scope = s[len(topicNotifsPfx):]
	default:
		return fmt.Errorf("feed: unknown topic %q", s)
	}

	if strings.TrimSpace(scope) == "" {
		return errors.New("feed: topic missing scope id")
	}
	if len(scope) > maxTopicScopeChars {
		return errors.New("feed: topic scope id too long")
	}
	return nil
}
