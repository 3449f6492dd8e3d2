package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"misinfo-twitter/src/pipeline"
	"misinfo-twitter/src/tweets"
)

// createdAtLayout is the platform's created_at format
const createdAtLayout = time.RubyDate

// errBadRecord marks messages that are not tweet records
var errBadRecord = errors.New("not a tweet record")

// ArchiveName returns the input file name the table builder expects for day
func ArchiveName(day string) string {
	return "streaming_data--" + day + ".json"
}

// Spooler appends raw tweet records to one archive per UTC day.
type Spooler struct {
	dir   string
	files map[string]*os.File
	now   func() time.Time
}

// NewSpooler creates a spooler writing into dir
func NewSpooler(dir string) *Spooler {
	return &Spooler{
		dir:   dir,
		files: make(map[string]*os.File),
		now:   time.Now,
	}
}

// recordDay picks the archive day of a tweet: its created_at in UTC, or the
// current day when the timestamp is missing or unparsable.
func (s *Spooler) recordDay(tw *tweets.Tweet) string {
	if t, err := time.Parse(createdAtLayout, tw.CreatedAt); err == nil {
		return t.UTC().Format(pipeline.DayLayout)
	}
	return s.now().UTC().Format(pipeline.DayLayout)
}

// Write validates one message and appends it as a line to its day's archive.
func (s *Spooler) Write(body []byte) (string, error) {
	tw, err := tweets.Decode(body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errBadRecord, err)
	}
	day := s.recordDay(tw)

	f, ok := s.files[day]
	if !ok {
		if err := os.MkdirAll(s.dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create tweet directory: %w", err)
		}
		path := filepath.Join(s.dir, ArchiveName(day))
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return "", fmt.Errorf("failed to open archive %s: %w", path, err)
		}
		s.files[day] = f
		slog.Info("Opened archive", "path", path)
	}

	// Archives hold one record per line
	var line bytes.Buffer
	if err := json.Compact(&line, body); err != nil {
		return "", fmt.Errorf("%w: %v", errBadRecord, err)
	}
	line.WriteByte('\n')
	if _, err := f.Write(line.Bytes()); err != nil {
		return "", fmt.Errorf("failed to append to archive for %s: %w", day, err)
	}
	return day, nil
}

// Days returns the number of archives opened so far
func (s *Spooler) Days() int {
	return len(s.files)
}

// Close closes every open archive
func (s *Spooler) Close() error {
	var firstErr error
	for day, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.files, day)
	}
	return firstErr
}

// SpoolStats summarizes one ingest run
type SpoolStats struct {
	Written  int
	Rejected int
	Days     int
}

// spoolDeliveries writes each delivery through sp and acks it only after the
// write. Undecodable messages are rejected without requeue. A failed write is
// nacked for redelivery and ends the run. It returns once msgs closes, ctx is
// done, or idle passes without a message.
func spoolDeliveries(ctx context.Context, msgs <-chan amqp.Delivery, sp *Spooler, idle time.Duration) (SpoolStats, error) {
	var st SpoolStats
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			st.Days = sp.Days()
			return st, nil
		case <-timer.C:
			slog.Info("Queue idle, stopping ingest", "idle", idle, "written", st.Written)
			st.Days = sp.Days()
			return st, nil
		case msg, ok := <-msgs:
			if !ok {
				st.Days = sp.Days()
				return st, nil
			}
			if _, err := sp.Write(msg.Body); err != nil {
				if !errors.Is(err, errBadRecord) {
					msg.Nack(false, true)
					st.Days = sp.Days()
					return st, err
				}
				slog.Warn("Rejecting undecodable message", "error", err)
				msg.Reject(false)
				st.Rejected++
			} else {
				msg.Ack(false)
				st.Written++
				if st.Written%10000 == 0 {
					slog.Info("Ingest progress", "written", st.Written)
				}
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(idle)
		}
	}
}
