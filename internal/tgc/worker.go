package tgc

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
)

/* ===== worker ===== */

// Worker is one authorized bot connection. Load counts the streams
// currently borrowed against it. A worker goes down for good when its
// connection loop exits outside shutdown; the pool stops handing it out.
type Worker struct {
	Index int
	DC    int

	client *telegram.Client
	api    *tg.Client
	load   atomic.Int64
	down   atomic.Bool
}

func (w *Worker) API() *tg.Client { return w.api }
func (w *Worker) Load() int64     { return w.load.Load() }
func (w *Worker) Healthy() bool   { return !w.down.Load() }

func (w *Worker) acquire() { w.load.Add(1) }
func (w *Worker) release() { w.load.Add(-1) }

/* ===== pool bootstrap ===== */

type Options struct {
	APIID      int
	APIHash    string
	BotTokens  []string
	SessionDir string
}

// StartPool logs every bot in and keeps the connections running until ctx
// is cancelled. It returns once all workers are authorized, or fails on
// the first worker that cannot log in.
func StartPool(ctx context.Context, opts Options) (*Pool, error) {
	if len(opts.BotTokens) == 0 {
		return nil, fmt.Errorf("no bot tokens configured")
	}

	pool := &Pool{workers: make([]*Worker, 0, len(opts.BotTokens))}

	for i, token := range opts.BotTokens {
		w, err := startWorker(ctx, i, token, opts)
		if err != nil {
			return nil, fmt.Errorf("worker %d: %w", i, err)
		}
		pool.workers = append(pool.workers, w)
		log.Printf("[pool] worker %d ready (dc %d, load 0)", w.Index, w.DC)
	}
	return pool, nil
}

func startWorker(ctx context.Context, index int, token string, opts Options) (*Worker, error) {
	store := &session.FileStorage{
		Path: filepath.Join(opts.SessionDir, fmt.Sprintf("worker-%d.session", index)),
	}
	client := telegram.NewClient(opts.APIID, opts.APIHash, telegram.Options{
		SessionStorage: store,
	})

	w := &Worker{Index: index, client: client}
	ready := make(chan struct{})
	fail := make(chan error, 1)

	go func() {
		err := client.Run(ctx, func(ctx context.Context) error {
			status, err := client.Auth().Status(ctx)
			if err != nil {
				return err
			}
			if !status.Authorized {
				if _, err := client.Auth().Bot(ctx, token); err != nil {
					return err
				}
			}
			w.api = client.API()
			w.DC = client.Config().ThisDC
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = fmt.Errorf("connection closed")
		}
		w.down.Store(true)
		select {
		case fail <- err:
		default:
			log.Printf("[pool] worker %d offline: %v", index, err)
		}
	}()

	select {
	case <-ready:
		return w, nil
	case err := <-fail:
		return nil, err
	case <-time.After(60 * time.Second):
		return nil, fmt.Errorf("login timed out")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
