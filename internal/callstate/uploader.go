package callstate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Sender pushes one finished slice to the ingest endpoint.
type Sender interface {
	Send(ctx context.Context, seq int, data []byte) error
}

// Uploader assigns sequence numbers and ships slices with bounded retry.
//
// The sequence counter is monotonic for the life of the uploader and is never
// reset, even when the recorder stops and restarts mid-call, so a segment key
// can never collide with one uploaded before a recovery.
type Uploader struct {
	send    Sender
	log     *slog.Logger
	retries int
	backoff time.Duration
	sleep   func(time.Duration)

	seq      atomic.Int64
	inFlight sync.WaitGroup
}

func NewUploader(send Sender, log *slog.Logger) *Uploader {
	u := &Uploader{
		send:    send,
		log:     log,
		retries: 3,
		backoff: time.Second,
		sleep:   time.Sleep,
	}
	u.seq.Store(-1)
	return u
}

// Enqueue claims the next sequence number and ships data asynchronously.
// Returns the claimed sequence number.
func (u *Uploader) Enqueue(ctx context.Context, data []byte) int {
	seq := int(u.seq.Add(1))
	u.inFlight.Add(1)
	go func() {
		defer u.inFlight.Done()
		u.ship(ctx, seq, data)
	}()
	return seq
}

// ship retries with linearly increasing backoff. Exhausting the attempts
// drops the slice; the merged output is simply shorter by one time-slice.
func (u *Uploader) ship(ctx context.Context, seq int, data []byte) {
	var err error
	for attempt := 1; attempt <= u.retries; attempt++ {
		if err = u.send.Send(ctx, seq, data); err == nil {
			return
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < u.retries {
			u.sleep(time.Duration(attempt) * u.backoff)
		}
	}
	u.log.Error("segment upload abandoned",
		slog.Int("seq", seq),
		slog.Int("attempts", u.retries),
		slog.Any("error", err))
}

// Drain blocks until every queued upload has finished or been abandoned.
func (u *Uploader) Drain() {
	u.inFlight.Wait()
}

// NextSeq reports the sequence number the next slice will claim.
func (u *Uploader) NextSeq() int {
	return int(u.seq.Load()) + 1
}
