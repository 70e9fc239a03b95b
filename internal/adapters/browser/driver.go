package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ysmood/gson"
	"go.uber.org/zap"

	"github.com/bnema/warmpool/internal/domain"
	"github.com/bnema/warmpool/internal/ports"
)

var errBrowserCrashed = errors.New("browser target crashed")

type Options struct {
	Launcher Launcher
	// Mailbox is nil when automatic registration is disabled.
	Mailbox      *Mailbox
	Identity     IdentityFunc
	Policy       domain.ErrorPolicy
	OnRegistered func(domain.RegisteredAccount)
	Logger       *zap.Logger
}

// Driver owns one browser process and the platform tab inside it.
type Driver struct {
	id           domain.SessionID
	cfg          Config
	launcher     Launcher
	mailbox      *Mailbox
	identity     IdentityFunc
	policy       domain.ErrorPolicy
	onRegistered func(domain.RegisteredAccount)
	logger       *zap.Logger
	sleep        func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	browser    Browser
	page       Page
	closed     bool
	registered bool
	streamSeq  atomic.Int64
}

var _ ports.Driver = (*Driver)(nil)

type loginProbe struct {
	Namespace    bool `json:"namespace"`
	Credential   any  `json:"credential"`
	Registration bool `json:"registration"`
}

type invokeEnvelope struct {
	OK    bool           `json:"ok"`
	Value any            `json:"value"`
	Error map[string]any `json:"error"`
}

func NewDriver(id domain.SessionID, cfg Config, opts Options) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	identity := opts.Identity
	if identity == nil {
		identity = NewIdentity
	}
	policy := opts.Policy
	if len(policy.LimitSignals) == 0 {
		policy = domain.DefaultErrorPolicy()
	}
	if cfg.SearchDepth <= 0 {
		cfg.SearchDepth = 4
	}
	if cfg.InitAttempts <= 0 {
		cfg.InitAttempts = 1
	}
	if cfg.LoginAttempts <= 0 {
		cfg.LoginAttempts = 1
	}

	return &Driver{
		id:           id,
		cfg:          cfg,
		launcher:     opts.Launcher,
		mailbox:      opts.Mailbox,
		identity:     identity,
		policy:       policy,
		onRegistered: opts.OnRegistered,
		logger:       logger.With(zap.String("component", "driver"), zap.Int64("session_id", int64(id))),
		sleep:        sleepContext,
	}
}

// NewFactory returns a DriverFactory building one Driver per session.
func NewFactory(cfg Config, opts Options) ports.DriverFactory {
	return func(id domain.SessionID) ports.Driver {
		return NewDriver(id, cfg, opts)
	}
}

// Init launches a browser and waits for a valid credential. Each failed attempt
// discards its browser before the next one starts.
func (d *Driver) Init(ctx context.Context) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= d.cfg.InitAttempts; attempt++ {
		credential, err := d.initOnce(ctx)
		if err == nil {
			return credential, nil
		}
		lastErr = err
		d.teardown()

		if ctx.Err() != nil || errors.Is(err, domain.ErrSessionDead) {
			return "", err
		}
		d.logger.Warn("driver init attempt failed", zap.Int("attempt", attempt), zap.Error(err))

		if attempt < d.cfg.InitAttempts {
			if err := d.sleep(ctx, time.Duration(attempt)*d.cfg.InitBackoff); err != nil {
				return "", err
			}
		}
	}

	return "", fmt.Errorf("init driver after %d attempts: %w", d.cfg.InitAttempts, lastErr)
}

func (d *Driver) initOnce(ctx context.Context) (string, error) {
	if d.isClosed() {
		return "", domain.ErrSessionDead
	}
	if d.launcher == nil {
		return "", errors.New("browser launcher is not configured")
	}

	browser, err := d.launcher.Launch(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: launch browser: %w", domain.ErrTransportFailure, err)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		_ = browser.Close()
		return "", domain.ErrSessionDead
	}
	d.browser = browser
	d.page = browser.Page()
	page := d.page
	d.mu.Unlock()

	navCtx := ctx
	if d.cfg.NavigateTimeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, d.cfg.NavigateTimeout)
		defer cancel()
	}
	if err := page.Navigate(navCtx, d.cfg.URL); err != nil {
		return "", d.transportError(ctx, "navigate to platform", err)
	}

	return d.waitForLogin(ctx, browser, page)
}

func (d *Driver) waitForLogin(ctx context.Context, browser Browser, page Page) (string, error) {
	for poll := 1; poll <= d.cfg.LoginAttempts; poll++ {
		d.clickAffordances(ctx, page)

		var probe loginProbe
		err := evalInto(ctx, page, scriptProbe, &probe, d.cfg.Namespace, d.cfg.CredentialProperty, d.cfg.CredentialKeys, registrationPhrases)
		if err != nil {
			if ctx.Err() != nil || crashed(browser) {
				return "", d.transportError(ctx, "probe login state", err)
			}
			d.logger.Debug("login probe failed", zap.Int("poll", poll), zap.Error(err))
		} else {
			if probe.Namespace && probe.Credential != nil {
				credential, err := domain.ValidateCredential(probe.Credential)
				if err == nil {
					d.logger.Info("login complete", zap.Int("poll", poll), zap.String("fingerprint", domain.Fingerprint(credential)))
					return credential, nil
				}
				d.logger.Debug("credential rejected", zap.Int("poll", poll), zap.Error(err))
			}
			if probe.Registration {
				d.register(ctx, browser, page)
			}
		}

		if poll == d.cfg.LoginAttempts {
			break
		}
		if err := d.sleep(ctx, d.cfg.LoginPollInterval); err != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("wait for login after %d polls: %w", d.cfg.LoginAttempts, domain.ErrLoginTimeout)
}

func (d *Driver) clickAffordances(ctx context.Context, page Page) {
	var clicked []string
	if err := evalInto(ctx, page, scriptAffordances, &clicked, continuePhrases); err != nil {
		d.logger.Debug("affordance click failed", zap.Error(err))
		return
	}
	if len(clicked) > 0 {
		d.logger.Debug("clicked affordances", zap.Strings("labels", clicked))
	}
}

// register runs the mailbox flow at most once per driver. Failures are absorbed
// so the login loop keeps polling.
func (d *Driver) register(ctx context.Context, browser Browser, page Page) {
	d.mu.Lock()
	if d.registered || d.mailbox == nil {
		d.mu.Unlock()
		return
	}
	d.registered = true
	d.mu.Unlock()

	identity, err := d.identity()
	if err != nil {
		d.logger.Warn("generate identity failed", zap.Error(err))
		return
	}

	d.logger.Info("registration required, starting mailbox flow")
	account, err := d.mailbox.Register(ctx, browser, page, identity)
	if err != nil {
		d.logger.Warn("registration attempt failed", zap.Error(err))
		return
	}
	if d.onRegistered != nil {
		d.onRegistered(account)
	}
}

// Invoke runs the capability's fallback ladder in the page. A limit signal
// stops the ladder so the caller can rotate.
func (d *Driver) Invoke(ctx context.Context, call domain.Call, onChunk domain.ChunkFunc) (domain.Artifact, error) {
	page, err := d.livePage()
	if err != nil {
		return domain.Artifact{}, err
	}

	rungs, err := d.cfg.ladder(call)
	if err != nil {
		return domain.Artifact{}, &domain.CapabilityError{Name: "InvalidRequest", Message: err.Error()}
	}

	var lastErr error
	for _, r := range rungs {
		artifact, emitted, err := d.invokeRung(ctx, page, call, r, onChunk)
		if err == nil {
			return artifact, nil
		}

		capErr, ok := domain.AsCapabilityError(err)
		if !ok || emitted || d.policy.IsLimit(capErr.Error()) {
			return domain.Artifact{}, err
		}
		lastErr = err
		d.logger.Debug("capability attempt failed",
			zap.String("capability", string(call.Capability)),
			zap.String("rung", r.label),
			zap.Error(err),
		)
	}

	return domain.Artifact{}, lastErr
}

func (d *Driver) invokeRung(ctx context.Context, page Page, call domain.Call, r rung, onChunk domain.ChunkFunc) (domain.Artifact, bool, error) {
	var emitted atomic.Bool
	streamTo := ""
	if call.Stream && onChunk != nil && call.Capability == domain.CapabilityChat {
		streamTo = fmt.Sprintf("__warmpoolChunk%d_%d", d.id, d.streamSeq.Add(1))
		stop, err := page.Expose(streamTo, func(payload gson.JSON) {
			emitted.Store(true)
			onChunk(chunkFromJSON(payload))
		})
		if err != nil {
			return domain.Artifact{}, false, d.transportError(ctx, "expose stream callback", err)
		}
		defer func() { _ = stop() }()
	}

	value, err := page.Eval(ctx, scriptInvoke, r.method, r.args, streamTo, d.cfg.SearchDepth+4)
	if err != nil {
		return domain.Artifact{}, emitted.Load(), d.transportError(ctx, "invoke "+string(call.Capability), err)
	}

	var envelope invokeEnvelope
	if err := decode(value, &envelope); err != nil {
		return domain.Artifact{}, emitted.Load(), &domain.CapabilityError{Name: "UnrecognizedResult", Message: err.Error()}
	}
	if !envelope.OK {
		if envelope.Error == nil {
			return domain.Artifact{}, emitted.Load(), &domain.CapabilityError{}
		}
		return domain.Artifact{}, emitted.Load(), capabilityErrorFrom(envelope.Error)
	}
	if capErr, failed := embeddedError(envelope.Value); failed {
		return domain.Artifact{}, emitted.Load(), capErr
	}

	if call.Capability.Media() {
		artifact, err := normalizeMedia(envelope.Value, d.cfg.SearchDepth)
		return artifact, emitted.Load(), err
	}
	text, ok := normalizeText(envelope.Value)
	if !ok {
		return domain.Artifact{}, emitted.Load(), &domain.CapabilityError{
			Name:    "UnrecognizedResult",
			Message: fmt.Sprintf("no text found in %s result", describeShape(envelope.Value)),
		}
	}
	return domain.Artifact{Kind: domain.ArtifactText, Value: text}, emitted.Load(), nil
}

func (d *Driver) livePage() (Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || d.page == nil {
		return nil, domain.ErrSessionDead
	}
	if crashed(d.browser) {
		return nil, fmt.Errorf("%w: %w", domain.ErrTransportFailure, errBrowserCrashed)
	}
	return d.page, nil
}

func (d *Driver) transportError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}

	d.mu.Lock()
	browser := d.browser
	d.mu.Unlock()
	if crashed(browser) {
		return fmt.Errorf("%w: %s: %w: %w", domain.ErrTransportFailure, op, errBrowserCrashed, err)
	}
	return fmt.Errorf("%w: %s: %w", domain.ErrTransportFailure, op, err)
}

// Close tears the browser down. Safe to call more than once.
func (d *Driver) Close() error {
	d.mu.Lock()
	d.closed = true
	browser := d.browser
	d.browser = nil
	d.page = nil
	d.mu.Unlock()

	if browser == nil {
		return nil
	}
	if err := browser.Close(); err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

func (d *Driver) teardown() {
	d.mu.Lock()
	browser := d.browser
	d.browser = nil
	d.page = nil
	d.mu.Unlock()

	if browser != nil {
		if err := browser.Close(); err != nil {
			d.logger.Debug("discard browser failed", zap.Error(err))
		}
	}
}

func (d *Driver) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func crashed(browser Browser) bool {
	if browser == nil {
		return false
	}
	select {
	case <-browser.Crashed():
		return true
	default:
		return false
	}
}

func chunkFromJSON(payload gson.JSON) domain.Chunk {
	value := payload.Val()
	if args, ok := value.([]any); ok && len(args) > 0 {
		value = args[0]
	}

	switch v := value.(type) {
	case string:
		return domain.Chunk{Text: v}
	case map[string]any:
		if errValue, ok := v["error"]; ok && errValue != nil {
			return domain.Chunk{Err: capabilityErrorFrom(errValue)}
		}
		if text, ok := normalizeText(v); ok {
			return domain.Chunk{Text: text}
		}
	}
	return domain.Chunk{}
}
