package pulse

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/sweeney/dglab-voice/internal/event"
)

// ErrClosed is returned by Feed after Close.
var ErrClosed = errors.New("pulse: controller closed")

const (
	// DefaultInterval is the scheduler tick interval.
	DefaultInterval = 100 * time.Millisecond
	// DefaultQueueSize bounds the utterance queue.
	DefaultQueueSize = 16
)

// Options tunes a Controller. Zero values select defaults.
type Options struct {
	Interval  time.Duration
	QueueSize int
	Logger    hclog.Logger
	Events    event.Sink
	// Sleep waits between ticks. It must return ctx.Err() when ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// channelState is guarded by mu. running is true while a scheduler goroutine
// owns the channel; done is closed when that goroutine has fully exited.
type channelState struct {
	mu       sync.Mutex
	triggers []*Trigger
	limit    int
	running  bool
	done     chan struct{}
}

// Controller dispatches utterances to rules and drives one scheduler per channel.
type Controller struct {
	feeder   Feeder
	waves    Waves
	rules    []Rule
	interval time.Duration
	logger   hclog.Logger
	events   event.Sink
	sleep    func(context.Context, time.Duration) error
	now      func() time.Time

	queue    chan string
	channels map[Channel]*channelState

	// ctx is cancelled by Close; every goroutine started by the controller
	// derives from it.
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex // guards closing and wg.Add
	closing bool
	wg      sync.WaitGroup
}

// New creates a Controller writing commands to feeder.
func New(feeder Feeder, waves Waves, rules []Rule, opts Options) *Controller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.Events == nil {
		opts.Events = event.Discard
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		feeder:   feeder,
		waves:    waves,
		rules:    rules,
		interval: opts.Interval,
		logger:   opts.Logger,
		events:   opts.Events,
		sleep:    opts.Sleep,
		now:      opts.Now,
		queue:    make(chan string, opts.QueueSize),
		channels: make(map[Channel]*channelState, len(Channels)),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, ch := range Channels {
		c.channels[ch] = &channelState{}
	}
	return c
}

// Feed queues an utterance. It blocks while the queue is full and may be
// called from any goroutine.
func (c *Controller) Feed(text string) error {
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case c.queue <- text:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	}
}

// Run processes queued utterances in arrival order until ctx is done or the
// controller is closed.
func (c *Controller) Run(ctx context.Context) error {
	if !c.track() {
		return ErrClosed
	}
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.ctx.Done():
			return nil
		case text := <-c.queue:
			c.handleUtterance(c.ctx, text)
		}
	}
}

func (c *Controller) handleUtterance(ctx context.Context, text string) {
	text = strings.ReplaceAll(text, " ", "")
	if strings.TrimSpace(text) == "" {
		return
	}
	c.logger.Debug("got", "text", text)
	if err := c.feeder.FeedLog(ctx, text); err != nil {
		c.logger.Warn("feed log failed", "error", err)
	}

	for _, rule := range c.rules {
		if !rule.Matches(text) {
			continue
		}
		for _, ch := range Channels {
			if t, ok := rule.Trigger(ch); ok {
				c.trigger(ch, t)
			}
		}
	}
}

// trigger appends t to ch and starts the channel's scheduler when idle.
func (c *Controller) trigger(ch Channel, t Trigger) {
	st := c.channels[ch]

	st.mu.Lock()
	st.triggers = append(st.triggers, &t)
	var prev, done chan struct{}
	start := !st.running
	if start {
		st.running = true
		prev = st.done
		done = make(chan struct{})
		st.done = done
	}
	st.mu.Unlock()

	c.logger.Info("trigger", "name", t.Name, "duration", t.Duration)
	c.events.Emit(event.Event{
		Timestamp: c.now(),
		Type:      event.TypeTrigger,
		Channel:   ch.String(),
		Name:      t.Name,
		Value:     t.Duration,
	})

	if start {
		if !c.track() {
			close(done)
			return
		}
		go c.runScheduler(ch, prev, done)
	}
}

// track registers a goroutine with the wait group unless closing.
func (c *Controller) track() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	c.wg.Add(1)
	return true
}

// HandleMessage consumes a message forwarded from the device. Strength
// reports update both channel limits together; anything else is ignored.
func (c *Controller) HandleMessage(_ context.Context, msg string) error {
	fb, ok := ParseFeedback(msg)
	if !ok {
		return nil
	}

	a, b := c.channels[ChannelA], c.channels[ChannelB]
	a.mu.Lock()
	b.mu.Lock()
	a.limit = fb.LimitA
	b.limit = fb.LimitB
	b.mu.Unlock()
	a.mu.Unlock()

	c.logger.Debug("limit", "a", fb.LimitA, "b", fb.LimitB)
	now := c.now()
	c.events.Emit(event.Event{Timestamp: now, Type: event.TypeLimit, Channel: "A", Value: fb.LimitA, Reported: fb.StrengthA})
	c.events.Emit(event.Event{Timestamp: now, Type: event.TypeLimit, Channel: "B", Value: fb.LimitB, Reported: fb.StrengthB})
	return nil
}

// Halt drops every active trigger. Running schedulers clear their channel on
// the next tick.
func (c *Controller) Halt() {
	for _, ch := range Channels {
		st := c.channels[ch]
		st.mu.Lock()
		n := len(st.triggers)
		st.triggers = nil
		st.mu.Unlock()
		if n > 0 {
			c.logger.Warn("halt", "channel", ch.String(), "dropped", n)
		}
	}
}

// Limit returns the device-reported strength ceiling of ch.
func (c *Controller) Limit(ch Channel) int {
	st := c.channels[ch]
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.limit
}

// Active returns the number of active triggers on ch.
func (c *Controller) Active(ch Channel) int {
	st := c.channels[ch]
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.triggers)
}

// Close stops the dispatcher and every scheduler, abandons queued triggers and
// zeroes both channels. It is safe to call more than once; only the first
// call sends the final commands.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	var errs []error
	for _, ch := range Channels {
		st := c.channels[ch]
		st.mu.Lock()
		st.triggers = nil
		st.running = false
		st.mu.Unlock()

		if err := c.feeder.FeedControl(ctx, ClearCommand(ch)); err != nil {
			errs = append(errs, err)
		}
		if err := c.feeder.FeedControl(ctx, StrengthCommand(ch, 0)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// waitIdle blocks until the scheduler currently owning ch, if any, has exited.
func (c *Controller) waitIdle(ch Channel) {
	st := c.channels[ch]
	st.mu.Lock()
	done := st.done
	st.mu.Unlock()
	if done != nil {
		<-done
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
