// Package watch turns files under a theme root into upload intents, either
// by walking the tree once or by following filesystem notifications.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/fsnotify/fsnotify"

	"github.com/agentworkforce/themesync/internal/assetkey"
	"github.com/agentworkforce/themesync/internal/preprocess"
	"github.com/agentworkforce/themesync/internal/uploadqueue"
)

var ErrNameHasSpaces = errors.New("filenames cannot contain spaces")

const defaultDebounce = 100 * time.Millisecond

// Enqueuer is the slice of *uploadqueue.Queue the producer needs.
type Enqueuer interface {
	Enqueue(intent uploadqueue.Intent) (*uploadqueue.Completion, error)
}

type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type Options struct {
	Root       string
	Preprocess preprocess.Options
	// Debounce collapses bursts of notifications for one path.
	Debounce time.Duration
	Logger   Logger
	// OnComplete runs once per submitted file with its terminal outcome.
	OnComplete func(path string, err error)
}

type Producer struct {
	queue      Enqueuer
	root       string
	preprocess preprocess.Options
	debounce   time.Duration
	logger     Logger
	onComplete func(path string, err error)
}

func NewProducer(queue Enqueuer, opts Options) *Producer {
	root := opts.Root
	if root == "" {
		root = "."
	}
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Producer{
		queue:      queue,
		root:       root,
		preprocess: opts.Preprocess,
		debounce:   debounce,
		logger:     opts.Logger,
		onComplete: opts.OnComplete,
	}
}

func (p *Producer) Root() string {
	return p.root
}

// Submit enqueues one file. A removed file becomes a delete. Names with
// whitespace are logged and rejected with ErrNameHasSpaces; paths outside
// a theme category fail with assetkey.ErrInvalidPath.
func (p *Producer) Submit(path string, removed bool, action uploadqueue.Action) (*uploadqueue.Completion, error) {
	rel := p.relative(path)
	if strings.IndexFunc(rel, unicode.IsSpace) >= 0 {
		p.logf("error", "filenames cannot contain spaces: %s", path)
		return nil, fmt.Errorf("%w: %s", ErrNameHasSpaces, path)
	}

	intent := uploadqueue.Intent{Action: action}
	if removed {
		intent.Action = uploadqueue.ActionDelete
		name, _, err := p.preprocess.Apply(rel, nil)
		if err != nil {
			return nil, err
		}
		intent.Path = name
	} else {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		name, transformed, err := p.preprocess.Apply(rel, content)
		if err != nil {
			return nil, err
		}
		intent.Path = name
		intent.Payload = transformed
	}
	if p.onComplete != nil {
		intent.OnComplete = func(err error) { p.onComplete(path, err) }
	}
	return p.queue.Enqueue(intent)
}

// Walk submits every regular file inside the category directories under
// the root and returns how many were enqueued. Any enqueue failure other
// than a rejected file name aborts the walk.
func (p *Producer) Walk(ctx context.Context) (int, error) {
	count := 0
	for _, category := range assetkey.Categories {
		dir := filepath.Join(p.root, category)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.IsDir() {
				if path != dir && isHidden(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || isHidden(d.Name()) {
				return nil
			}
			if _, err := p.Submit(path, false, uploadqueue.ActionCreate); err != nil {
				if errors.Is(err, ErrNameHasSpaces) {
					return nil
				}
				return err
			}
			count++
			return nil
		})
		if err != nil {
			return count, err
		}
	}
	p.logf("info", "walked %s: %d files queued", p.root, count)
	return count, nil
}

// Watch follows filesystem notifications under the category directories
// until ctx ends. Writes become updates, new files creates, and removals
// or renames away deletes.
func (p *Producer) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, category := range assetkey.Categories {
		dir := filepath.Join(p.root, category)
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			if err := addRecursive(watcher, dir); err != nil {
				return err
			}
		}
	}
	// The root itself is watched so a category directory created later is
	// picked up.
	if err := watcher.Add(p.root); err != nil {
		return err
	}

	debouncer := newDebouncer(p.debounce, p.flush)
	defer debouncer.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logf("warn", "watcher error: %v", err)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			p.handle(watcher, debouncer, event)
		}
	}
}

func (p *Producer) handle(watcher *fsnotify.Watcher, debouncer *debouncer, event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if isHidden(name) || strings.HasSuffix(name, "~") {
		return
	}
	if filepath.Dir(event.Name) == p.root && !isCategory(name) {
		return
	}
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		debouncer.add(event.Name, pendingChange{removed: true})
	case event.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			if err := addRecursive(watcher, event.Name); err != nil {
				p.logf("warn", "watch %s: %v", event.Name, err)
			}
			p.submitTree(event.Name)
			return
		}
		debouncer.add(event.Name, pendingChange{action: uploadqueue.ActionCreate})
	case event.Has(fsnotify.Write):
		debouncer.add(event.Name, pendingChange{action: uploadqueue.ActionUpdate})
	}
}

// submitTree queues files that appeared inside a new directory before it
// was watched.
func (p *Producer) submitTree(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || isHidden(d.Name()) {
			return nil
		}
		p.submitLogged(path, pendingChange{action: uploadqueue.ActionCreate})
		return nil
	})
}

func (p *Producer) flush(path string, change pendingChange) {
	if !change.removed {
		if info, err := os.Stat(path); err != nil || info.IsDir() {
			return
		}
	}
	p.submitLogged(path, change)
}

func (p *Producer) submitLogged(path string, change pendingChange) {
	if _, err := p.Submit(path, change.removed, change.action); err != nil && !errors.Is(err, ErrNameHasSpaces) {
		p.logf("error", "queue %s: %v", path, err)
	}
}

func (p *Producer) relative(path string) string {
	if rel, err := filepath.Rel(p.root, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return filepath.ToSlash(path)
}

func (p *Producer) logf(level, format string, args ...any) {
	if p.logger == nil {
		return
	}
	switch level {
	case "debug":
		p.logger.Debugf(format, args...)
	case "warn":
		p.logger.Warnf(format, args...)
	case "error":
		p.logger.Errorf(format, args...)
	default:
		p.logger.Infof(format, args...)
	}
}

func addRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && isHidden(d.Name()) {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

func isCategory(name string) bool {
	for _, category := range assetkey.Categories {
		if name == category {
			return true
		}
	}
	return false
}

type pendingChange struct {
	removed bool
	action  uploadqueue.Action
}

// debouncer delays each path's change until it has been quiet for the
// interval; a later change for the same path replaces the earlier one.
type debouncer struct {
	interval time.Duration
	fire     func(path string, change pendingChange)

	mu      sync.Mutex
	timers  map[string]*time.Timer
	changes map[string]pendingChange
	stopped bool
}

func newDebouncer(interval time.Duration, fire func(string, pendingChange)) *debouncer {
	return &debouncer{
		interval: interval,
		fire:     fire,
		timers:   map[string]*time.Timer{},
		changes:  map[string]pendingChange{},
	}
}

func (d *debouncer) add(path string, change pendingChange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if previous, ok := d.changes[path]; ok && previous.action == uploadqueue.ActionCreate && !change.removed {
		change.action = uploadqueue.ActionCreate
	}
	d.changes[path] = change
	if timer, ok := d.timers[path]; ok {
		timer.Stop()
	}
	d.timers[path] = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		change, ok := d.changes[path]
		delete(d.changes, path)
		delete(d.timers, path)
		stopped := d.stopped
		d.mu.Unlock()
		if ok && !stopped {
			d.fire(path, change)
		}
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for path, timer := range d.timers {
		timer.Stop()
		delete(d.timers, path)
	}
}
