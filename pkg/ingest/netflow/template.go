package netflow

import (
	"sync"

	netflowdec "github.com/netsampler/goflow2/decoders/netflow"
)

// templateStore keeps one goflow2 template system per exporter address.
// Templates advertised by one router must not leak into decoding flows from
// another, so the systems are keyed by exporter IP.
type templateStore struct {
	mu      sync.Mutex
	systems map[string]netflowdec.NetFlowTemplateSystem
}

func newTemplateStore() *templateStore {
	return &templateStore{systems: make(map[string]netflowdec.NetFlowTemplateSystem)}
}

func (s *templateStore) system(exporterIP string) netflowdec.NetFlowTemplateSystem {
	s.mu.Lock()
	defer s.mu.Unlock()
	sys, ok := s.systems[exporterIP]
	if !ok {
		sys = netflowdec.CreateTemplateSystem()
		s.systems[exporterIP] = sys
	}
	return sys
}

// Exporters reports how many exporters currently hold template state.
func (s *templateStore) Exporters() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.systems)
}
