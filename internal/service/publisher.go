package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gallerydesk/internal/db"
	"github.com/gallerydesk/internal/gallery"
	"github.com/gallerydesk/internal/gateway"
	"pkt.systems/pslog"
)

// CommitMessage formats the message of a dashboard commit.
func CommitMessage(tab gallery.Collection, at time.Time) string {
	return fmt.Sprintf("Dashboard: update %s (%s)", tab, at.UTC().Format(time.RFC3339))
}

// PublishResult describes a successful commit workflow run.
type PublishResult struct {
	CommitSHA string `json:"commitSha"`
	HeadSHA   string `json:"headSha"`
	Message   string `json:"message"`
	Uploads   int    `json:"uploads"`
	Attempts  int    `json:"attempts"`
}

// Publisher turns an edit session into one commit on a branch.
type Publisher struct {
	gateway     gateway.Gateway
	lock        SaveLock
	history     *HistoryService
	branch      string
	maxAttempts int
	now         func() time.Time
}

// PublisherOption customizes a Publisher.
type PublisherOption func(*Publisher)

// WithSaveLock replaces the default in-process lock.
func WithSaveLock(lock SaveLock) PublisherOption {
	return func(p *Publisher) {
		if lock != nil {
			p.lock = lock
		}
	}
}

// WithHistory records every outcome.
func WithHistory(h *HistoryService) PublisherOption {
	return func(p *Publisher) { p.history = h }
}

// WithMaxAttempts bounds how often a rejected ref update is retried
// against a fresh head.
func WithMaxAttempts(n int) PublisherOption {
	return func(p *Publisher) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithClock overrides the commit timestamp source.
func WithClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPublisher creates a Publisher committing to branch through gw.
func NewPublisher(gw gateway.Gateway, branch string, opts ...PublisherOption) *Publisher {
	p := &Publisher{
		gateway:     gw,
		lock:        NewMemoryLock(),
		branch:      strings.TrimSpace(branch),
		maxAttempts: 1,
		now:         time.Now,
	}
	if p.branch == "" {
		p.branch = "main"
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Branch returns the target branch.
func (p *Publisher) Branch() string {
	return p.branch
}

// Publish commits the session's document and pending uploads as a single
// commit. On failure the session is left as it was.
func (p *Publisher) Publish(ctx context.Context, session *EditSession, who Identity) (PublishResult, error) {
	if who.Anonymous() {
		return PublishResult{}, ErrAuthRequired
	}
	if session == nil {
		return PublishResult{}, ErrNothingToSave
	}
	if !session.Dirty() {
		return PublishResult{}, ErrNothingToSave
	}

	release, err := p.lock.Acquire(ctx, p.branch)
	if err != nil {
		return PublishResult{}, err
	}
	defer release()

	log := pslog.Ctx(ctx).With("branch", p.branch, "user", who.Username)
	at := p.now()

	snap, err := session.Snapshot()
	if err != nil {
		if !errors.Is(err, ErrNothingToSave) {
			tab := session.ActiveTab()
			p.record(log, who, tab, CommitMessage(tab, at), PublishResult{}, err)
			log.Warn("gallery save rejected", "err", err)
		}
		return PublishResult{}, err
	}

	message := CommitMessage(snap.ActiveTab, at)
	result, err := p.commit(ctx, log, snap, who, at, message)
	p.record(log, who, snap.ActiveTab, message, result, err)
	if err != nil {
		log.Warn("gallery save failed", "step", gateway.StepOf(err), "attempts", result.Attempts, "err", err)
		return result, err
	}

	session.MarkSaved(snap)
	log.Info("gallery saved", "sha", result.CommitSHA, "uploads", result.Uploads, "attempts", result.Attempts)
	return result, nil
}

func (p *Publisher) commit(ctx context.Context, log pslog.Logger, snap Snapshot, who Identity, at time.Time, message string) (PublishResult, error) {
	result := PublishResult{Message: message, Uploads: len(snap.Uploads)}
	author := gateway.Author{Name: who.Name, Email: who.Email, Date: at.UTC()}

	// blobs are content addressed, so a retry reuses them
	var entries []gateway.TreeEntry
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		result.Attempts = attempt

		head, err := p.gateway.GetRef(ctx, p.branch)
		if err != nil {
			return result, err
		}
		base, err := p.gateway.GetCommit(ctx, head)
		if err != nil {
			return result, err
		}
		result.HeadSHA = head
		log.Debug("branch head read", "step", gateway.StepReadCommit, "sha", head, "tree", base.TreeSHA)

		if entries == nil {
			entries, err = p.createBlobs(ctx, log, snap)
			if err != nil {
				return result, err
			}
		}

		tree, err := p.gateway.CreateTree(ctx, base.TreeSHA, entries)
		if err != nil {
			return result, err
		}
		commitSHA, err := p.gateway.CreateCommit(ctx, gateway.CommitRequest{
			Message: message,
			Tree:    tree,
			Parents: []string{head},
			Author:  author,
		})
		if err != nil {
			return result, err
		}

		err = p.gateway.UpdateRef(ctx, p.branch, commitSHA, head)
		if err == nil {
			result.CommitSHA = commitSHA
			return result, nil
		}
		if !errors.Is(err, gateway.ErrRefConflict) || attempt == p.maxAttempts {
			return result, err
		}
		log.Info("branch moved during save, retrying", "step", gateway.StepUpdateRef, "sha", head, "attempt", attempt)
	}
	return result, errors.New("commit workflow made no attempt")
}

// createBlobs stores every upload in queue order, then the document.
func (p *Publisher) createBlobs(ctx context.Context, log pslog.Logger, snap Snapshot) ([]gateway.TreeEntry, error) {
	entries := make([]gateway.TreeEntry, 0, len(snap.Uploads)+1)
	for _, upload := range snap.Uploads {
		sha, err := p.gateway.CreateBlob(ctx, upload.Payload)
		if err != nil {
			return nil, err
		}
		log.Debug("upload blob created", "step", gateway.StepCreateBlob, "path", upload.TargetPath, "sha", sha)
		entries = append(entries, gateway.BlobEntry(upload.TargetPath, sha))
	}

	raw, err := snap.Document.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode gallery document: %w", err)
	}
	docSHA, err := p.gateway.CreateBlob(ctx, raw)
	if err != nil {
		return nil, err
	}
	return append(entries, gateway.BlobEntry(gallery.DataPath, docSHA)), nil
}

func (p *Publisher) record(log pslog.Logger, who Identity, tab gallery.Collection, message string, result PublishResult, err error) {
	if p.history == nil {
		return
	}
	rec := &db.SaveRecord{
		Username:   who.Username,
		Collection: string(tab),
		Branch:     p.branch,
		HeadSHA:    result.HeadSHA,
		CommitSHA:  result.CommitSHA,
		Message:    message,
		Uploads:    result.Uploads,
		Attempts:   result.Attempts,
		Status:     db.SaveStatusSucceeded,
	}
	if err != nil {
		rec.Status = db.SaveStatusFailed
		rec.Step = gateway.StepOf(err)
		rec.Error = err.Error()
	}
	if herr := p.history.Record(rec); herr != nil {
		log.Error("record save history failed", "err", herr)
	}
}
