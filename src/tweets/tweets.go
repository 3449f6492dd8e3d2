package tweets

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoTweetID is returned by Decode when a record carries neither id_str nor id.
var ErrNoTweetID = errors.New("tweet record has no id_str")

// URLEntity is one entry of an entities.urls array
type URLEntity struct {
	URL         string `json:"url"`
	ExpandedURL string `json:"expanded_url"`
}

// Entities holds the entity arrays we read from a tweet
type Entities struct {
	URLs []URLEntity `json:"urls"`
}

// ExtendedTweet is the un-truncated form of a tweet
type ExtendedTweet struct {
	FullText string    `json:"full_text"`
	Entities *Entities `json:"entities"`
}

// User is the subset of account fields used for geolocation
type User struct {
	IDStr       string  `json:"id_str"`
	Name        string  `json:"name"`
	ScreenName  string  `json:"screen_name"`
	Location    *string `json:"location"`
	Description string  `json:"description"`
}

// Tweet is a decoded tweet record. Only the fields the pipeline consumes are
// kept; nested documents are pointers and are nil when absent.
type Tweet struct {
	IDStr           string         `json:"id_str"`
	ID              json.Number    `json:"id"`
	CreatedAt       string         `json:"created_at"`
	Text            *string        `json:"text"`
	ExtendedTweet   *ExtendedTweet `json:"extended_tweet"`
	Entities        *Entities      `json:"entities"`
	User            *User          `json:"user"`
	RetweetedStatus *Tweet         `json:"retweeted_status"`
	QuotedStatus    *Tweet         `json:"quoted_status"`
}

// Decode parses one line-delimited JSON tweet record.
func Decode(line []byte) (*Tweet, error) {
	var tw Tweet
	if err := json.Unmarshal(line, &tw); err != nil {
		return nil, fmt.Errorf("failed to decode tweet: %w", err)
	}
	if tw.IDStr == "" {
		// Older records only carry the numeric id
		tw.IDStr = tw.ID.String()
	}
	if tw.IDStr == "" {
		return nil, ErrNoTweetID
	}
	return &tw, nil
}

// OwnText returns the truncated text of the tweet, or "" when absent.
func (t *Tweet) OwnText() string {
	if t == nil || t.Text == nil {
		return ""
	}
	return *t.Text
}

// ExtendedText returns extended_tweet.full_text, or "" when absent.
func (t *Tweet) ExtendedText() string {
	if t == nil || t.ExtendedTweet == nil {
		return ""
	}
	return t.ExtendedTweet.FullText
}

// FullText prefers the extended text and falls back to the truncated text.
func (t *Tweet) FullText() string {
	if ext := t.ExtendedText(); ext != "" {
		return ext
	}
	return t.OwnText()
}

// EntityURLs returns entities.urls, or nil.
func (t *Tweet) EntityURLs() []URLEntity {
	if t == nil || t.Entities == nil {
		return nil
	}
	return t.Entities.URLs
}

// ExtendedEntityURLs returns extended_tweet.entities.urls, or nil.
func (t *Tweet) ExtendedEntityURLs() []URLEntity {
	if t == nil || t.ExtendedTweet == nil || t.ExtendedTweet.Entities == nil {
		return nil
	}
	return t.ExtendedTweet.Entities.URLs
}

// AccountID returns user.id_str, or "" when the record has no user.
func (t *Tweet) AccountID() string {
	if t == nil || t.User == nil {
		return ""
	}
	return t.User.IDStr
}

// AccountLocation returns the free-text user location rendered the way the
// location table stores it: "None" when the field is null or missing.
func (t *Tweet) AccountLocation() string {
	if t == nil || t.User == nil || t.User.Location == nil {
		return "None"
	}
	return *t.User.Location
}
