package engine

import (
	"errors"
	"fmt"
	"log"

	"github.com/myuser/xctstore/internal/proc"
	"github.com/myuser/xctstore/internal/storage"
	"github.com/myuser/xctstore/internal/thread"
	"github.com/myuser/xctstore/internal/txn"
)

// Options configures an engine instance.
type Options struct {
	// Workers is the size of the worker pool.
	Workers int
	// BlockPoolDepth bounds how many lock grants one worker holds at once.
	BlockPoolDepth int
	// CommitLogPath enables durability when non-empty.
	CommitLogPath string
	// Quiet suppresses lifecycle logging (tests).
	Quiet bool
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 8
	}
	if o.BlockPoolDepth <= 0 {
		o.BlockPoolDepth = 64
	}
	return o
}

// TinyOptions is the smallest useful engine, for tests.
func TinyOptions() Options {
	return Options{Workers: 2, BlockPoolDepth: 16, Quiet: true}
}

// Engine assembles the worker pool, procedure registry, transaction manager
// and record store. Procedures are registered before Initialize; work is
// submitted through Impersonate afterwards.
type Engine struct {
	opts  Options
	procs *proc.Registry

	pool   *thread.Pool
	xctMgr *txn.Manager
	store  *storage.Store

	initialized bool
}

func New(opts Options) *Engine {
	return &Engine{
		opts:  opts.withDefaults(),
		procs: proc.NewRegistry(),
	}
}

// Procs exposes the registry for pre-registration.
func (e *Engine) Procs() *proc.Registry { return e.procs }

// Initialize boots the store (replaying the commit log if configured), the
// transaction manager, and the worker pool.
func (e *Engine) Initialize() error {
	if e.initialized {
		return errors.New("engine already initialized")
	}

	if e.opts.CommitLogPath != "" {
		s, err := storage.NewStoreWithLog(e.opts.CommitLogPath)
		if err != nil {
			return fmt.Errorf("open record store: %w", err)
		}
		e.store = s
	} else {
		e.store = storage.NewStore()
	}

	e.xctMgr = txn.NewManager()
	e.pool = thread.NewPool(e.opts.Workers, e.opts.BlockPoolDepth, e.procs.Lookup)
	e.initialized = true

	if !e.opts.Quiet {
		log.Printf("engine up: %d workers, block depth %d", e.opts.Workers, e.opts.BlockPoolDepth)
	}
	return nil
}

// Uninitialize drains workers and closes the store. Outstanding sessions
// must be released and transactions ended before calling this.
func (e *Engine) Uninitialize() error {
	if !e.initialized {
		return errors.New("engine not initialized")
	}
	e.xctMgr.Stop()
	e.pool.Shutdown()
	if n := e.xctMgr.ActiveCount(); n != 0 {
		return fmt.Errorf("%d transactions leaked past shutdown", n)
	}
	err := e.store.Close()
	e.initialized = false
	if !e.opts.Quiet {
		log.Printf("engine down")
	}
	return err
}

// Impersonate runs the named procedure on an idle worker.
func (e *Engine) Impersonate(name string, input []byte) (*thread.Session, bool) {
	return e.pool.Impersonate(name, input)
}

// XctManager returns the transaction boundary.
func (e *Engine) XctManager() *txn.Manager { return e.xctMgr }

// Store returns the record store.
func (e *Engine) Store() *storage.Store { return e.store }
