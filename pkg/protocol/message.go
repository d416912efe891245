package protocol

import (
	"fmt"
	"time"

	"github.com/friflo/fliox.go/pkg/constants"
	"github.com/friflo/fliox.go/pkg/models"
)

// SyncRequest is an ordered batch of tasks sent to one database.
type SyncRequest struct {
	Database string `json:"db,omitempty"`
	ClientID string `json:"clt,omitempty"`
	ReqID    string `json:"req,omitempty"`
	// Timeout in milliseconds. Zero means no deadline.
	Timeout int64      `json:"timeout,omitempty"`
	Tasks   []SyncTask `json:"tasks"`
}

// Deadline returns the request timeout as a duration.
func (r *SyncRequest) Deadline() (time.Duration, bool) {
	if r.Timeout <= 0 {
		return 0, false
	}
	return time.Duration(r.Timeout) * time.Millisecond, true
}

// Idempotent reports whether every task of the request is safe to re-send.
func (r *SyncRequest) Idempotent() bool {
	for i := range r.Tasks {
		if !r.Tasks[i].Type.Idempotent() {
			return false
		}
	}
	return true
}

// SyncResponse carries one TaskResult per request task, in request order.
// When the whole request failed Error is set and Results is empty.
type SyncResponse struct {
	ReqID    string       `json:"req,omitempty"`
	Database string       `json:"db,omitempty"`
	ClientID string       `json:"clt,omitempty"`
	Results  []TaskResult `json:"results,omitempty"`
	Error    *TaskError   `json:"err,omitempty"`
}

// Check verifies the response correlates to req.
func (r *SyncResponse) Check(req *SyncRequest) error {
	if r.Error != nil {
		return r.Error
	}
	if r.ReqID != req.ReqID {
		return fmt.Errorf("%w: response %q for request %q", constants.ErrInvalidResponse, r.ReqID, req.ReqID)
	}
	if len(r.Results) != len(req.Tasks) {
		return fmt.Errorf("%w: %d results for %d tasks", constants.ErrInvalidResponse, len(r.Results), len(req.Tasks))
	}
	return nil
}

type EventType string

const (
	// EventChange delivers a ChangeEvent of a subscribed container.
	EventChange EventType = "change"
	// EventMsg delivers a command or message sent to a subscribed name.
	EventMsg EventType = "message"
	// EventResync tells the subscriber that events were dropped. It has to
	// re-read the containers it is interested in.
	EventResync EventType = "resync"
)

// EventMessage is pushed from the hub to a subscriber. Seq increases per
// subscriber of a database. A gap can only appear right before a resync
// event, which carries the Seq of the last dropped event.
type EventMessage struct {
	Seq     uint64              `json:"seq"`
	Type    EventType           `json:"type"`
	DB      string              `json:"db,omitempty"`
	Change  *models.ChangeEvent `json:"change,omitempty"`
	Message *Message            `json:"msg,omitempty"`
}

// Message is a named message with its parameter.
type Message struct {
	Name  string `json:"name"`
	Param any    `json:"param,omitempty"`
}

type EnvelopeType string

const (
	EnvelopeSync     EnvelopeType = "sync"
	EnvelopeResponse EnvelopeType = "resp"
	EnvelopeEvent    EnvelopeType = "ev"
)

// Envelope frames a message on a duplex connection, so both sides can tell
// responses from pushed events.
type Envelope struct {
	Msg      EnvelopeType  `json:"msg"`
	Request  *SyncRequest  `json:"sync,omitempty"`
	Response *SyncResponse `json:"resp,omitempty"`
	Event    *EventMessage `json:"ev,omitempty"`
}

// HubInfo describes a hub. It is returned by the std.Host command.
type HubInfo struct {
	Name     string `json:"hubName" yaml:"name"`
	Version  string `json:"version,omitempty" yaml:"version"`
	Label    string `json:"label,omitempty" yaml:"label"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint"`
}
