// Package feewatcher keeps a periodically refreshed fee rate estimate so that
// operation handlers never block on a fee lookup.
package feewatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmstore/giftd/internal/core/ports"
	"github.com/go-co-op/gocron"
	log "github.com/sirupsen/logrus"
)

type service struct {
	chain       ports.ChainSource
	scheduler   *gocron.Scheduler
	lock        sync.RWMutex
	rate        float64
	defaultRate float64
}

// New starts refreshing the fee estimate every interval. The configured
// default rate is served until the first successful refresh, and again
// whenever the chain source keeps failing.
func New(
	chain ports.ChainSource, interval time.Duration, defaultRate float64,
) (ports.FeeSource, error) {
	if chain == nil {
		return nil, fmt.Errorf("missing chain source")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("invalid refresh interval %s", interval)
	}
	if defaultRate <= 0 {
		return nil, fmt.Errorf("invalid default fee rate %f", defaultRate)
	}

	svc := &service{
		chain:       chain,
		scheduler:   gocron.NewScheduler(time.UTC),
		defaultRate: defaultRate,
	}
	svc.refresh()

	if _, err := svc.scheduler.Every(interval).Do(svc.refresh); err != nil {
		return nil, err
	}
	svc.scheduler.StartAsync()

	return svc, nil
}

func (s *service) RecommendedFeeRate() float64 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if s.rate <= 0 {
		return s.defaultRate
	}
	return s.rate
}

func (s *service) Stop() {
	s.scheduler.Stop()
}

func (s *service) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rate, err := s.chain.GetFeeRate(ctx)
	if err != nil {
		log.WithError(err).Warn("failed to refresh fee rate, keeping previous estimate")
		return
	}
	if rate <= 0 {
		return
	}

	s.lock.Lock()
	s.rate = rate
	s.lock.Unlock()
}
