// File: internal/monitor/netwatch.go
package monitor

import (
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/droneops-sync/pkg/utils"
)

// InterfaceLister returns the host network interfaces
type InterfaceLister func() ([]net.Interface, error)

// InterfaceWatcher polls the host interfaces and reports when the host gains
// or loses a usable (up, non-loopback) interface.
type InterfaceWatcher struct {
	lister   InterfaceLister
	interval time.Duration
	onChange func(online bool)
	logger   *logrus.Entry

	mu       sync.Mutex
	last     *bool
	running  bool
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewInterfaceWatcher creates a watcher that calls onChange on every edge,
// including the first observation.
func NewInterfaceWatcher(interval time.Duration, onChange func(online bool)) *InterfaceWatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &InterfaceWatcher{
		lister:   net.Interfaces,
		interval: interval,
		onChange: onChange,
		logger:   utils.GetLogger().WithField("component", "interface_watcher"),
		stopChan: make(chan struct{}),
	}
}

// SetLister replaces the interface source
func (w *InterfaceWatcher) SetLister(lister InterfaceLister) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lister = lister
}

// Start begins polling
func (w *InterfaceWatcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true

	w.wg.Add(1)
	go w.loop()
}

// Stop stops polling and waits for the loop to exit
func (w *InterfaceWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	w.wg.Wait()
}

func (w *InterfaceWatcher) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Poll()
	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.Poll()
		}
	}
}

// Poll checks the interfaces once and reports a change
func (w *InterfaceWatcher) Poll() {
	w.mu.Lock()
	lister := w.lister
	w.mu.Unlock()

	ifaces, err := lister()
	if err != nil {
		w.logger.WithError(err).Warn("Failed to list network interfaces")
		return
	}
	online := hasUsableInterface(ifaces)

	w.mu.Lock()
	changed := w.last == nil || *w.last != online
	w.last = &online
	w.mu.Unlock()

	if changed {
		w.logger.WithField("online", online).Info("Host network changed")
		w.onChange(online)
	}
}

func hasUsableInterface(ifaces []net.Interface) bool {
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 {
			return true
		}
	}
	return false
}
