package netflow

import (
	"encoding/binary"
	"fmt"
	"net"
)

const (
	v5HeaderLen = 24
	v5RecordLen = 48
)

// V5Header is the fixed 24-byte NetFlow v5 packet header.
type V5Header struct {
	Version          uint16
	Count            uint16
	SysUptimeMS      uint32
	UnixSecs         uint32
	UnixNsecs        uint32
	FlowSequence     uint32
	EngineType       uint8
	EngineID         uint8
	SamplingInterval uint16
}

// V5Record is one fixed 48-byte NetFlow v5 flow record.
type V5Record struct {
	SrcAddr       uint32
	DstAddr       uint32
	NextHop       uint32
	InputIf       uint16
	OutputIf      uint16
	Packets       uint32
	Octets        uint32
	FirstSwitched uint32
	LastSwitched  uint32
	SrcPort       uint16
	DstPort       uint16
	TCPFlags      uint8
	Protocol      uint8
	TOS           uint8
	SrcAS         uint16
	DstAS         uint16
	SrcMask       uint8
	DstMask       uint8
}

// V5Packet is a decoded NetFlow v5 datagram.
type V5Packet struct {
	Header  V5Header
	Records []V5Record
}

// DecodeV5 decodes a NetFlow v5 datagram. The datagram must carry as many
// records as the header count announces; short packets are rejected rather
// than partially decoded.
func DecodeV5(raw []byte) (*V5Packet, error) {
	if len(raw) < v5HeaderLen {
		return nil, fmt.Errorf("netflow v5 packet too short: %d bytes", len(raw))
	}
	h := V5Header{
		Version:          binary.BigEndian.Uint16(raw[0:2]),
		Count:            binary.BigEndian.Uint16(raw[2:4]),
		SysUptimeMS:      binary.BigEndian.Uint32(raw[4:8]),
		UnixSecs:         binary.BigEndian.Uint32(raw[8:12]),
		UnixNsecs:        binary.BigEndian.Uint32(raw[12:16]),
		FlowSequence:     binary.BigEndian.Uint32(raw[16:20]),
		EngineType:       raw[20],
		EngineID:         raw[21],
		SamplingInterval: binary.BigEndian.Uint16(raw[22:24]),
	}
	if h.Version != 5 {
		return nil, fmt.Errorf("not a netflow v5 packet: version %d", h.Version)
	}
	need := v5HeaderLen + int(h.Count)*v5RecordLen
	if len(raw) < need {
		return nil, fmt.Errorf("netflow v5 packet truncated: header announces %d records (%d bytes), got %d",
			h.Count, need, len(raw))
	}

	pkt := &V5Packet{Header: h, Records: make([]V5Record, 0, h.Count)}
	for i := 0; i < int(h.Count); i++ {
		b := raw[v5HeaderLen+i*v5RecordLen:]
		pkt.Records = append(pkt.Records, V5Record{
			SrcAddr:       binary.BigEndian.Uint32(b[0:4]),
			DstAddr:       binary.BigEndian.Uint32(b[4:8]),
			NextHop:       binary.BigEndian.Uint32(b[8:12]),
			InputIf:       binary.BigEndian.Uint16(b[12:14]),
			OutputIf:      binary.BigEndian.Uint16(b[14:16]),
			Packets:       binary.BigEndian.Uint32(b[16:20]),
			Octets:        binary.BigEndian.Uint32(b[20:24]),
			FirstSwitched: binary.BigEndian.Uint32(b[24:28]),
			LastSwitched:  binary.BigEndian.Uint32(b[28:32]),
			SrcPort:       binary.BigEndian.Uint16(b[32:34]),
			DstPort:       binary.BigEndian.Uint16(b[34:36]),
			TCPFlags:      b[37],
			Protocol:      b[38],
			TOS:           b[39],
			SrcAS:         binary.BigEndian.Uint16(b[40:42]),
			DstAS:         binary.BigEndian.Uint16(b[42:44]),
			SrcMask:       b[44],
			DstMask:       b[45],
		})
	}
	return pkt, nil
}

func ipv4String(addr uint32) string {
	ip := make(net.IP, 4)
	binary.BigEndian.PutUint32(ip, addr)
	return ip.String()
}

func (p *V5Packet) flowRecords(exporterIP string, exporterPort int) []*FlowRecord {
	uptime := int64(p.Header.SysUptimeMS)
	secs := int64(p.Header.UnixSecs)
	out := make([]*FlowRecord, 0, len(p.Records))
	for _, r := range p.Records {
		rec := &FlowRecord{
			Version:         5,
			ExporterIP:      exporterIP,
			ExporterPort:    exporterPort,
			SysUptimeMS:     &uptime,
			UnixSecs:        &secs,
			FirstSwitchedMS: int64Ptr(int64(r.FirstSwitched)),
			LastSwitchedMS:  int64Ptr(int64(r.LastSwitched)),
			SrcIP:           ipv4String(r.SrcAddr),
			DstIP:           ipv4String(r.DstAddr),
			SrcPort:         intPtr(int(r.SrcPort)),
			DstPort:         intPtr(int(r.DstPort)),
			Protocol:        intPtr(int(r.Protocol)),
			TCPFlags:        intPtr(int(r.TCPFlags)),
			TOS:             intPtr(int(r.TOS)),
			Bytes:           int64Ptr(int64(r.Octets)),
			Packets:         int64Ptr(int64(r.Packets)),
			InputIf:         intPtr(int(r.InputIf)),
			OutputIf:        intPtr(int(r.OutputIf)),
			SrcAS:           intPtr(int(r.SrcAS)),
			DstAS:           intPtr(int(r.DstAS)),
			SrcMask:         intPtr(int(r.SrcMask)),
			DstMask:         intPtr(int(r.DstMask)),
		}
		if r.NextHop != 0 {
			rec.NextHop = ipv4String(r.NextHop)
		}
		out = append(out, rec)
	}
	return out
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }
