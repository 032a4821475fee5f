package dispatcher

import (
	"bufio"
	"context"
	"io"
	"os"
	"regexp"

	"go.uber.org/zap"

	"github.com/tunedex/tunecrawler/internal/metrics"
	"github.com/tunedex/tunecrawler/internal/store"
)

// dnsFailurePattern matches resolver failures in fetcher logs. Fetchers
// report DNS failures explicitly in RESULT; the scanner is a fallback that
// catches hosts failing outside the normal result path.
var dnsFailurePattern = regexp.MustCompile(`Failed to resolve '([^']+)'`)

// logScanner tails a log file between ticks and remembers its read offset.
// Truncation (rotation) resets the offset to the start.
type logScanner struct {
	path   string
	offset int64
}

func newLogScanner(path string) *logScanner {
	return &logScanner{path: path}
}

// scan returns the hosts named in resolver failures since the last call.
func (s *logScanner) scan() ([]string, error) {
	if s.path == "" {
		return nil, nil
	}
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close() //nolint:errcheck // read-only

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < s.offset {
		s.offset = 0
	}
	if _, err := f.Seek(s.offset, io.SeekStart); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var hosts []string
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		s.offset += int64(len(line))
		if m := dnsFailurePattern.FindStringSubmatch(line); m != nil {
			if _, dup := seen[m[1]]; !dup {
				seen[m[1]] = struct{}{}
				hosts = append(hosts, m[1])
			}
		}
		if err != nil {
			break
		}
	}
	return hosts, nil
}

func (d *Dispatcher) runLogScan(ctx context.Context) {
	hosts, err := d.scanner.scan()
	if err != nil {
		d.logger.Error("log scan failed", zap.Error(err))
		return
	}
	now := d.clock.Now()
	for _, host := range hosts {
		if err := d.store.DisableHost(ctx, host, store.DisableReasonDNS, now); err != nil {
			d.logger.Error("disable host from log scan failed",
				zap.String("host", host), zap.Error(err))
			continue
		}
		metrics.ObserveHostDisabled(store.DisableReasonDNS)
		d.publish(ctx, "host.disabled", map[string]any{
			"host":   host,
			"reason": store.DisableReasonDNS,
		})
		d.logger.Warn("host disabled after resolver failures in logs",
			zap.String("host", host))
	}
}
