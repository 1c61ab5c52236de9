// Package trustedtime implements the trusted-time oracle: a "current
// instant" resistant to local clock tampering, combining a boot-time floor,
// external NTP synchronization, and the sealed checkpoint's monotone floor.
package trustedtime

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/shirou/gopsutil/v3/host"

	"github.com/nascentcore/license-engine/checkpoint"
	engerrors "github.com/nascentcore/license-engine/infrastructure/errors"
	"github.com/nascentcore/license-engine/infrastructure/logging"
	"github.com/nascentcore/license-engine/infrastructure/metrics"
	"github.com/nascentcore/license-engine/infrastructure/redaction"
	"github.com/nascentcore/license-engine/infrastructure/resilience"
	"github.com/nascentcore/license-engine/infrastructure/security"
)

// Config bundles the oracle's construction parameters. Zero-value duration
// fields fall back to the defaults set in New: 1s probe timeout, 300s max
// clock skew, 300s reprobe interval, 1s checkpoint tolerance, and 2s
// timedatectl timeout.
type Config struct {
	Hosts               []string
	ProbeTimeout        time.Duration
	MaxClockSkew        time.Duration
	ReprobeInterval     time.Duration
	CheckpointTolerance time.Duration
	TimedatectlTimeout  time.Duration
	Store               *checkpoint.Store
	Metrics             *metrics.Collector
	Logger              *logging.Logger
	EngineName          string
	DisableTimedatectl  bool
	probeNowForTests    func() time.Time // test seam, nil in production
}

type hostProbe struct {
	host string
	cb   *resilience.CircuitBreaker
}

// Oracle produces a trusted "now" and a trustworthy verdict per §4.C. Its
// external-time cache is guarded by an internal mutex, but checkpoint reads
// and ratchets are not; callers sharing one Oracle across goroutines must
// serialize access, as with the facade.
type Oracle struct {
	bootInstant time.Time
	hosts       []*hostProbe

	probeTimeout       time.Duration
	maxClockSkew       time.Duration
	reprobeInterval    time.Duration
	timedatectlTimeout time.Duration
	disableTimedatectl bool

	store               *checkpoint.Store
	checkpointTolerance time.Duration

	metrics    *metrics.Collector
	logger     *logging.Logger
	engineName string

	mu                     sync.Mutex
	lastExternalTime       time.Time
	lastExternalProbeLocal time.Time
	lastExternalTrusted    bool

	nowFn func() time.Time
}

// New performs full oracle initialization: computes the boot floor, runs
// the initial external probe, and validates the sealed checkpoint. Any
// failure here is fatal, per §4.C "Initialization failures".
func New(cfg Config) (*Oracle, error) {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 1 * time.Second
	}
	if cfg.MaxClockSkew <= 0 {
		cfg.MaxClockSkew = 300 * time.Second
	}
	if cfg.ReprobeInterval <= 0 {
		cfg.ReprobeInterval = 300 * time.Second
	}
	if cfg.CheckpointTolerance <= 0 {
		cfg.CheckpointTolerance = 1 * time.Second
	}
	if cfg.TimedatectlTimeout <= 0 {
		cfg.TimedatectlTimeout = 2 * time.Second
	}
	if cfg.Store == nil {
		return nil, logFatal(cfg.Logger, engerrors.New(engerrors.ErrCodeSystemTimeTampered, "trusted-time oracle requires a sealed checkpoint store", engerrors.SeverityFatal))
	}

	o := &Oracle{
		probeTimeout:        cfg.ProbeTimeout,
		maxClockSkew:        cfg.MaxClockSkew,
		reprobeInterval:     cfg.ReprobeInterval,
		timedatectlTimeout:  cfg.TimedatectlTimeout,
		disableTimedatectl:  cfg.DisableTimedatectl,
		store:               cfg.Store,
		checkpointTolerance: cfg.CheckpointTolerance,
		metrics:             cfg.Metrics,
		logger:              cfg.Logger,
		engineName:          cfg.EngineName,
		nowFn:               time.Now,
	}
	if cfg.probeNowForTests != nil {
		o.nowFn = cfg.probeNowForTests
	}
	for _, h := range cfg.Hosts {
		o.hosts = append(o.hosts, &hostProbe{
			host: h,
			cb:   resilience.New(resilience.DefaultProbeCBConfig(cfg.Logger)),
		})
	}

	bootUnix, err := host.BootTime()
	if err != nil {
		return nil, logFatal(cfg.Logger, engerrors.Wrap(engerrors.ErrCodeSystemTimeTampered, "reading system boot time", engerrors.SeverityFatal, err))
	}
	o.bootInstant = time.Unix(int64(bootUnix), 0).UTC()

	now := o.nowFn().UTC()
	if now.Before(o.bootInstant) {
		return nil, logFatal(cfg.Logger, engerrors.SystemTimeTampered(fmt.Sprintf("wall clock %s is before boot instant %s", now, o.bootInstant)))
	}

	if err := o.probeExternal(context.Background(), true); err != nil {
		return nil, logFatal(cfg.Logger, err)
	}

	if _, err := o.store.Validate(); err != nil {
		return nil, logFatal(cfg.Logger, err)
	}

	return o, nil
}

// logFatal records a construction-time fatal error, if a logger is
// configured, with both the message and any structured Details passed
// through the sanitizer/redactor before they reach the log sink. It returns
// err unchanged so call sites can wrap this around every fatal return.
func logFatal(logger *logging.Logger, err error) error {
	if logger == nil || err == nil {
		return err
	}
	svcErr := engerrors.GetServiceError(err)
	fields := map[string]interface{}{"sanitized_message": security.SanitizeError(err)}
	if svcErr != nil && svcErr.Details != nil {
		fields["details"] = redaction.RedactMap(svcErr.Details)
	}
	logger.Error(context.Background(), "trusted-time oracle construction failed", err, fields)
	return err
}

// Now returns the wall-clock instant the oracle is asked to vouch for,
// together with whether all three trusted-time sources currently agree.
func (o *Oracle) Now(ctx context.Context) (time.Time, bool) {
	now := o.nowFn().UTC()
	return now, o.validateTime(ctx, now)
}

// validateTime implements §4.C's validate_time(t): all three sources must
// pass. Per-query failures never abort the process; they only flip the
// returned bool and, when a metrics collector is configured, increment
// trusted_time_clock_untrusted_total.
func (o *Oracle) validateTime(ctx context.Context, t time.Time) bool {
	if t.Before(o.bootInstant) {
		o.recordUntrusted()
		return false
	}

	o.mu.Lock()
	stale := o.lastExternalProbeLocal.IsZero() || o.nowFn().Sub(o.lastExternalProbeLocal) > o.reprobeInterval
	o.mu.Unlock()
	if stale {
		_ = o.probeExternal(ctx, false)
	}

	o.mu.Lock()
	externalTrusted := o.lastExternalTrusted
	o.mu.Unlock()
	if !externalTrusted {
		o.recordUntrusted()
		return false
	}

	floor, err := o.store.Validate()
	if err != nil {
		o.recordUntrusted()
		return false
	}
	if !floor.IsZero() && t.Before(floor.Add(-o.checkpointTolerance)) {
		o.recordUntrusted()
		return false
	}

	return true
}

func (o *Oracle) recordUntrusted() {
	o.metrics.RecordClockUntrusted()
}

// Ratchet advances the sealed checkpoint to t. The facade calls this after
// every successful license validation, per §4.C's "ratcheting forward".
func (o *Oracle) Ratchet(t time.Time) error {
	return o.store.Update(t)
}

// probeExternal queries every configured host concurrently and the
// systemd sync indicator, then determines external trustworthiness by
// majority agreement among the hosts that answered (§9 Open Question 4:
// probing all hosts instead of stopping at the first success). When
// isInitial is true, a local clock that diverges from the majority's time by
// more than MaxClockSkew (with timedatectl not reporting sync) is a fatal
// SystemTimeTampered construction error; otherwise divergence merely
// leaves the external source untrusted for this round. When no host answers
// or the answers have no majority, no error is returned and the external
// source is trusted only if timedatectl reports sync.
func (o *Oracle) probeExternal(ctx context.Context, isInitial bool) error {
	samples := make([]externalSample, len(o.hosts))
	var wg sync.WaitGroup
	for i, hp := range o.hosts {
		wg.Add(1)
		go func(i int, hp *hostProbe) {
			defer wg.Done()
			start := o.nowFn()
			at, ok := o.probeOneHost(hp)
			duration := o.nowFn().Sub(start)
			o.metrics.RecordExternalProbe(o.engineName, hp.host, ok, duration)
			if o.logger != nil {
				var probeErr error
				if !ok {
					probeErr = fmt.Errorf("probe failed")
				}
				o.logger.LogExternalProbe(ctx, hp.host, duration, probeErr)
			}
			samples[i] = externalSample{host: hp.host, at: at, ok: ok}
		}(i, hp)
	}
	wg.Wait()

	var reached []externalSample
	for _, s := range samples {
		if s.ok {
			reached = append(reached, s)
		}
	}

	synced := o.probeTimedatectl(ctx)

	localNow := o.nowFn().UTC()

	if len(reached) == 0 {
		o.mu.Lock()
		o.lastExternalTrusted = synced
		o.lastExternalProbeLocal = localNow
		if synced {
			o.lastExternalTime = localNow
		}
		o.mu.Unlock()
		return nil
	}

	majority, ok := majorityCluster(reached, o.maxClockSkew)
	if !ok {
		o.mu.Lock()
		o.lastExternalTrusted = synced
		o.lastExternalProbeLocal = localNow
		o.mu.Unlock()
		return nil
	}

	skew := localNow.Sub(majority).Abs()
	trusted := skew <= o.maxClockSkew || synced

	if isInitial && !trusted {
		return engerrors.SystemTimeTampered(fmt.Sprintf("local clock diverges from external time sources by %s, exceeds %s", skew, o.maxClockSkew))
	}

	o.mu.Lock()
	o.lastExternalTime = majority
	o.lastExternalProbeLocal = localNow
	o.lastExternalTrusted = trusted
	o.mu.Unlock()

	return nil
}

func (o *Oracle) probeOneHost(hp *hostProbe) (time.Time, bool) {
	var result time.Time
	err := hp.cb.Execute(context.Background(), func() error {
		return resilience.Retry(context.Background(), resilience.RetryConfig{
			MaxAttempts:  1,
			InitialDelay: 0,
		}, func() error {
			resp, qerr := ntp.QueryWithOptions(hp.host, ntp.QueryOptions{Timeout: o.probeTimeout})
			if qerr != nil {
				return qerr
			}
			if verr := resp.Validate(); verr != nil {
				return verr
			}
			result = resp.Time.UTC()
			return nil
		})
	})
	return result, err == nil
}

// externalSample is one host's NTP probe outcome.
type externalSample struct {
	host string
	at   time.Time
	ok   bool
}

// majorityCluster groups samples into clusters whose members are all
// pairwise within tolerance, and returns the median instant of the largest
// cluster if that cluster contains a strict majority of the samples.
func majorityCluster(samples []externalSample, tolerance time.Duration) (time.Time, bool) {
	sorted := append([]externalSample(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].at.Before(sorted[j].at) })

	best := -1
	bestStart := 0
	for start := 0; start < len(sorted); start++ {
		end := start
		for end+1 < len(sorted) && sorted[end+1].at.Sub(sorted[start].at) <= tolerance {
			end++
		}
		if size := end - start + 1; size > best {
			best = size
			bestStart = start
		}
	}

	if best <= len(sorted)/2 {
		return time.Time{}, false
	}
	return sorted[bestStart+best/2].at, true
}

// probeTimedatectl consults the systemd "NTP synchronized" indicator as an
// optional extra in-tolerance source. Any failure (binary missing,
// non-Linux host, timeout) is treated as "no extra signal", never an error.
func (o *Oracle) probeTimedatectl(ctx context.Context) bool {
	if o.disableTimedatectl || runtime.GOOS != "linux" {
		return false
	}

	cctx, cancel := context.WithTimeout(ctx, o.timedatectlTimeout)
	defer cancel()

	out, err := exec.CommandContext(cctx, "timedatectl", "show", "-p", "NTPSynchronized", "--value").Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "yes"
}
