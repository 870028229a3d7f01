package pulse

import (
	"container/list"
	"errors"
	"time"
)

var (
	ErrMissingAppKey   = errors.New("app_key is missing")
	ErrMissingDeviceID = errors.New("device_id is missing")
)

// RequestQueue is the bounded FIFO of pending outbound requests. At most one
// request is in flight at a time; it is held outside the list so eviction
// never touches it.
//
// RequestQueue is not safe for concurrent use; its owner serializes access.
type RequestQueue struct {
	list      *list.List
	inflight  *Request
	failUntil time.Time
	size      int

	sdkName    string
	sdkVersion string
	stamper    *msStamper

	store *blobStore
	key   string
}

type queueOptions struct {
	size       int
	sdkName    string
	sdkVersion string
	stamper    *msStamper
	store      *blobStore
	key        string
}

func newRequestQueue(opts queueOptions) *RequestQueue {
	return &RequestQueue{
		list:       list.New(),
		size:       opts.size,
		sdkName:    opts.sdkName,
		sdkVersion: opts.sdkVersion,
		stamper:    opts.stamper,
		store:      opts.store,
		key:        opts.key,
	}
}

// Load replaces the queue contents with the persisted queue.
func (q *RequestQueue) Load() {
	var requests []Request
	if !q.store.load(q.key, &requests) {
		return
	}
	q.list.Init()
	for _, req := range requests {
		q.list.PushBack(req)
	}
}

// Enqueue stamps req and appends it, evicting the oldest waiting request
// when the queue is full. Bulk envelopes (req.Requests set) need no
// device_id.
func (q *RequestQueue) Enqueue(req Request) error {
	if req.AppKey == "" {
		return ErrMissingAppKey
	}
	if req.DeviceID == "" && len(req.Requests) == 0 {
		return ErrMissingDeviceID
	}

	if req.SDKName == "" {
		req.SDKName = q.sdkName
	}
	if req.SDKVersion == "" {
		req.SDKVersion = q.sdkVersion
	}
	if req.Timestamp == 0 {
		req.Timestamp = q.stamper.Next()
		req.Hour, req.Dow = hourDow(timeOf(req.Timestamp))
	} else if req.Hour == 0 && req.Dow == 0 {
		req.Hour, req.Dow = hourDow(timeOf(req.Timestamp))
	}

	for q.size > 0 && q.list.Len() >= q.size {
		q.list.Remove(q.list.Front())
	}
	q.list.PushBack(req)
	q.persist()
	return nil
}

// PeekAndLock takes the head request for delivery. It returns false when
// the queue is empty or a request is already in flight.
func (q *RequestQueue) PeekAndLock() (Request, bool) {
	if q.inflight != nil || q.list.Len() == 0 {
		return Request{}, false
	}
	front := q.list.Front()
	q.list.Remove(front)
	req := front.Value.(Request)
	q.inflight = &req
	return req, true
}

// updateInFlight replaces the in-flight request, e.g. after consent was
// attached to it.
func (q *RequestQueue) updateInFlight(req Request) {
	if q.inflight == nil {
		return
	}
	*q.inflight = req
	q.persist()
}

// Drain removes and returns up to max waiting requests from the head.
// max <= 0 drains everything.
func (q *RequestQueue) Drain(max int) []Request {
	if q.list.Len() == 0 {
		return nil
	}
	var out []Request
	for q.list.Len() > 0 && (max <= 0 || len(out) < max) {
		front := q.list.Front()
		q.list.Remove(front)
		out = append(out, front.Value.(Request))
	}
	q.persist()
	return out
}

// Confirm drops the in-flight request after successful delivery.
func (q *RequestQueue) Confirm() {
	q.inflight = nil
	q.persist()
}

// Requeue puts req back at the head and blocks delivery until until.
func (q *RequestQueue) Requeue(req Request, until time.Time) {
	q.inflight = nil
	q.list.PushFront(req)
	q.failUntil = until
	q.persist()
}

// Ready reports whether a delivery attempt may start at now.
func (q *RequestQueue) Ready(now time.Time) bool {
	return q.inflight == nil && q.list.Len() > 0 && !now.Before(q.failUntil)
}

// InFlight reports whether a request is currently being delivered.
func (q *RequestQueue) InFlight() bool {
	return q.inflight != nil
}

// FailUntil returns the end of the current fail-timeout.
func (q *RequestQueue) FailUntil() time.Time {
	return q.failUntil
}

// Pending returns the number of requests waiting for delivery.
func (q *RequestQueue) Pending() int {
	return q.list.Len()
}

// Len returns the number of waiting plus in-flight requests.
func (q *RequestQueue) Len() int {
	if q.inflight != nil {
		return q.list.Len() + 1
	}
	return q.list.Len()
}

// IsEmpty reports whether nothing is waiting or in flight.
func (q *RequestQueue) IsEmpty() bool {
	return q.Len() == 0
}

// ToSlice returns the in-flight request (if any) followed by the waiting
// ones, preserving order.
func (q *RequestQueue) ToSlice() []Request {
	requests := make([]Request, 0, q.Len())
	if q.inflight != nil {
		requests = append(requests, *q.inflight)
	}
	for e := q.list.Front(); e != nil; e = e.Next() {
		requests = append(requests, e.Value.(Request))
	}
	return requests
}

// Clear drops every waiting request. An in-flight request is kept.
func (q *RequestQueue) Clear() {
	q.list.Init()
	q.persist()
}

// persist writes the in-flight request along with the waiting ones, so a
// crash mid-delivery retries it on the next start.
func (q *RequestQueue) persist() {
	q.store.save(q.key, q.ToSlice())
}

func hourDow(t time.Time) (int, int) {
	return t.Hour(), int(t.Weekday())
}
