package service

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/xiaot623/gogo/chatrelay/internal/adapter/inference"
	"github.com/xiaot623/gogo/chatrelay/internal/adapter/objectstore"
	"github.com/xiaot623/gogo/chatrelay/internal/repository"
)

// ErrUploadQueueFull is reported when a job cannot be queued.
var ErrUploadQueueFull = errors.New("attachment queue is full")

// AttachmentJob uploads the file of a persisted reply.
type AttachmentJob struct {
	ChatID    string
	MessageID string
	File      inference.Attachment
}

// AttachmentError reports a failed job.
type AttachmentError struct {
	Job AttachmentJob
	Err error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("attachment for message %s: %v", e.Job.MessageID, e.Err)
}

func (e *AttachmentError) Unwrap() error { return e.Err }

// AttachmentUploader uploads reply attachments in the background and
// records their URL on the message. Failures never reach the connection;
// they are logged and published on Errors.
type AttachmentUploader struct {
	history store.HistoryStore
	objects objectstore.ObjectStore
	workers int
	log     *log.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan AttachmentJob
	errs   chan error
	wg     sync.WaitGroup
}

// NewAttachmentUploader creates an uploader. Call Start to run the workers.
func NewAttachmentUploader(history store.HistoryStore, objects objectstore.ObjectStore, workers, queueSize int, logger *log.Logger) *AttachmentUploader {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &AttachmentUploader{
		history: history,
		objects: objects,
		workers: workers,
		log:     logger.With("component", "attachments"),
		jobs:    make(chan AttachmentJob, queueSize),
		errs:    make(chan error, queueSize),
	}
}

// Start launches the worker pool. Workers exit when Stop drains the queue.
func (u *AttachmentUploader) Start(ctx context.Context) {
	for i := 0; i < u.workers; i++ {
		u.wg.Add(1)
		go func() {
			defer u.wg.Done()
			for job := range u.jobs {
				u.process(ctx, job)
			}
		}()
	}
}

// Enqueue schedules job without blocking. It reports false when the
// uploader is stopped or its queue is full.
func (u *AttachmentUploader) Enqueue(job AttachmentJob) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.closed {
		u.fail(job, errors.New("attachment uploader stopped"))
		return false
	}
	select {
	case u.jobs <- job:
		return true
	default:
		u.fail(job, ErrUploadQueueFull)
		return false
	}
}

// Errors publishes job failures. Failures are dropped when nobody reads.
func (u *AttachmentUploader) Errors() <-chan error {
	return u.errs
}

// Stop stops accepting jobs and waits for queued ones to finish.
func (u *AttachmentUploader) Stop() {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return
	}
	u.closed = true
	close(u.jobs)
	u.mu.Unlock()
	u.wg.Wait()
}

func (u *AttachmentUploader) process(ctx context.Context, job AttachmentJob) {
	data, err := job.File.Decode()
	if err != nil {
		u.fail(job, fmt.Errorf("decode attachment: %w", err))
		return
	}
	name := job.File.Name()
	objectPath := objectstore.ResponseAttachmentPath(job.ChatID, job.MessageID, name)
	url, err := u.objects.Put(ctx, data, objectPath, contentType(name))
	if err != nil {
		u.fail(job, fmt.Errorf("upload attachment: %w", err))
		return
	}
	if err := u.history.SetResponseFileURL(ctx, job.MessageID, url); err != nil {
		u.fail(job, fmt.Errorf("record attachment url: %w", err))
		return
	}
	u.log.Info("response file uploaded", "chat_id", job.ChatID, "message_id", job.MessageID, "url", url)
}

func (u *AttachmentUploader) fail(job AttachmentJob, err error) {
	u.log.Error("failed to upload response file", "chat_id", job.ChatID, "message_id", job.MessageID, "err", err)
	select {
	case u.errs <- &AttachmentError{Job: job, Err: err}:
	default:
	}
}

func contentType(filename string) string {
	if ct := mime.TypeByExtension(path.Ext(filename)); ct != "" {
		return ct
	}
	return "application/pdf"
}
