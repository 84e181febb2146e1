package models

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Layouts used for persisted local timestamps and for operator input.
const (
	LocalTimeLayout   = "2006-01-02 15:04:05"
	RequestTimeLayout = "2006-01-02 15:04"
)

// MessageID is the exchange-assigned identifier of a chat message. The
// exchange sends numbers; strings are accepted as well.
type MessageID string

func (id *MessageID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = MessageID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = MessageID(n.String())
	return nil
}

// MarshalJSON writes canonical integers as JSON numbers and everything else,
// including "007" or "+5", as a string.
func (id MessageID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

// ChatMessage is one harvested chatroom message, one per log line.
type ChatMessage struct {
	ID             MessageID `json:"id"`
	Username       string    `json:"username"`
	Content        string    `json:"content"`
	Timestamp      int64     `json:"timestamp"`
	TimestampLocal string    `json:"timestamp_local"`
}

// legacyChatMessage mirrors log lines written before timestamp_local existed.
type legacyChatMessage struct {
	ChatMessage
	TimestampWIB string `json:"timestamp_wib"`
}

// DecodeChatMessage parses a single log line.
func DecodeChatMessage(line []byte) (*ChatMessage, error) {
	var raw legacyChatMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, err
	}
	msg := raw.ChatMessage
	if msg.TimestampLocal == "" {
		msg.TimestampLocal = raw.TimestampWIB
	}
	return &msg, nil
}

// LocalTime parses TimestampLocal in loc.
func (m *ChatMessage) LocalTime(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(LocalTimeLayout, m.TimestampLocal, loc)
}

// Localize fills TimestampLocal from Timestamp.
func (m *ChatMessage) Localize(loc *time.Location) {
	m.TimestampLocal = time.Unix(m.Timestamp, 0).In(loc).Format(LocalTimeLayout)
}

// Mode selects how the ranking is built.
type Mode string

const (
	ModeRanked   Mode = "ranked"
	ModeUsername Mode = "username"
)

// RankingRequest is the single live request written by rank commands.
type RankingRequest struct {
	Start       string    `json:"start"`
	End         string    `json:"end"`
	Keyword     string    `json:"keyword,omitempty"`
	Usernames   []string  `json:"usernames,omitempty"`
	Mode        Mode      `json:"mode,omitempty"`
	RequestedAt time.Time `json:"requested_at,omitempty"`
}

// DecodeRankingRequest parses a persisted request. The older "kata" key is
// accepted as the keyword.
func DecodeRankingRequest(data []byte) (*RankingRequest, error) {
	var raw struct {
		RankingRequest
		Kata string `json:"kata"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	req := raw.RankingRequest
	if req.Keyword == "" {
		req.Keyword = raw.Kata
	}
	if req.Mode == "" {
		req.Mode = ModeRanked
	}
	return &req, nil
}

// ByUsername reports whether the request asks for an explicit username list.
func (r *RankingRequest) ByUsername() bool {
	return r.Mode == ModeUsername && len(r.Usernames) > 0
}

// Describe renders the request for operator replies.
func (r *RankingRequest) Describe() string {
	var sb strings.Builder
	sb.WriteString(r.Start + " s/d " + r.End)
	if r.Keyword != "" {
		sb.WriteString(", kata '" + r.Keyword + "'")
	}
	if r.ByUsername() {
		sb.WriteString(", username " + strings.Join(r.Usernames, " "))
	}
	return sb.String()
}

// Placeholder value for users without matching messages.
const Placeholder = "-"

// UserAggregate holds per-user activity for one ranking pass.
type UserAggregate struct {
	Username    string    `json:"username"`
	Count       int       `json:"count"`
	LastContent string    `json:"last_content"`
	LastTime    string    `json:"last_time"`
	last        time.Time
}

// NewPlaceholder returns the zero-count entry for a listed user.
func NewPlaceholder(username string) UserAggregate {
	return UserAggregate{
		Username:    username,
		LastContent: Placeholder,
		LastTime:    Placeholder,
	}
}

// Observe counts msg and keeps it as the latest message when it is strictly
// later than the current one.
func (u *UserAggregate) Observe(msg *ChatMessage, at time.Time) {
	u.Count++
	if u.Count == 1 || at.After(u.last) {
		u.LastContent = msg.Content
		u.LastTime = msg.TimestampLocal
		u.last = at
	}
}

// Ranking is the output of one Ranking Engine pass.
type Ranking struct {
	Entries []UserAggregate `json:"ranking"`
	Start   string          `json:"start"`
	End     string          `json:"end"`
	NoData  bool            `json:"no_data"`
	Skipped int             `json:"skipped"`
}
