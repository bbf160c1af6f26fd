// Package netflow decodes NetFlow datagrams and normalizes flow records into
// common events. Version 5 is decoded natively; v9 and IPFIX ride on the
// goflow2 decoder with per-exporter template state.
package netflow

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"time"
)

// ProtocolNames maps IP protocol numbers to display names. Unknown numbers
// render as their decimal value.
var ProtocolNames = map[int]string{
	1: "ICMP", 6: "TCP", 17: "UDP", 47: "GRE",
	50: "ESP", 51: "AH", 89: "OSPF", 132: "SCTP",
}

// ProtocolName renders an IP protocol number for display.
func ProtocolName(num int) string {
	if name, ok := ProtocolNames[num]; ok {
		return name
	}
	return strconv.Itoa(num)
}

var tcpFlagNames = []struct {
	bit  int
	name string
}{
	{0x01, "FIN"}, {0x02, "SYN"}, {0x04, "RST"}, {0x08, "PSH"},
	{0x10, "ACK"}, {0x20, "URG"}, {0x40, "ECE"}, {0x80, "CWR"},
}

// FormatTCPFlags renders set flag bits as a comma-joined name list.
// Returns "" when no flag bits are set.
func FormatTCPFlags(flags int) string {
	var out string
	for _, f := range tcpFlagNames {
		if flags&f.bit == 0 {
			continue
		}
		if out != "" {
			out += ","
		}
		out += f.name
	}
	return out
}

// FlowRecord is a decoded flow plus the export context needed to reconstruct
// absolute times. v5 and v9 carry uptime-relative switch times; IPFIX carries
// absolute start/end. Optional fields are pointers so zero values survive.
type FlowRecord struct {
	Version      int    `json:"netflow_version"`
	ExporterIP   string `json:"exporter_ip"`
	ExporterPort int    `json:"exporter_port"`

	SysUptimeMS     *int64     `json:"router_sys_uptime_ms,omitempty"`
	UnixSecs        *int64     `json:"packet_unix_secs,omitempty"`
	FirstSwitchedMS *int64     `json:"first_switched_ms,omitempty"`
	LastSwitchedMS  *int64     `json:"last_switched_ms,omitempty"`
	StartTime       *time.Time `json:"flow_start,omitempty"`
	EndTime         *time.Time `json:"flow_end,omitempty"`

	SrcIP   string `json:"src_addr,omitempty"`
	DstIP   string `json:"dst_addr,omitempty"`
	NextHop string `json:"next_hop,omitempty"`

	SrcPort  *int   `json:"src_port,omitempty"`
	DstPort  *int   `json:"dst_port,omitempty"`
	Protocol *int   `json:"protocol,omitempty"`
	TCPFlags *int   `json:"tcp_flags,omitempty"`
	TOS      *int   `json:"tos,omitempty"`
	Bytes    *int64 `json:"bytes,omitempty"`
	Packets  *int64 `json:"packets,omitempty"`
	InputIf  *int   `json:"input_if,omitempty"`
	OutputIf *int   `json:"output_if,omitempty"`
	SrcAS    *int   `json:"src_as,omitempty"`
	DstAS    *int   `json:"dst_as,omitempty"`
	SrcMask  *int   `json:"src_mask,omitempty"`
	DstMask  *int   `json:"dst_mask,omitempty"`

	Extra map[string]interface{} `json:"extra,omitempty"`
}

// Parser decodes datagrams into version-independent flow records, holding
// template state per exporter for the templated versions.
type Parser struct {
	templates *templateStore
}

// NewParser creates a Parser with empty template state.
func NewParser() *Parser {
	return &Parser{templates: newTemplateStore()}
}

// Parse decodes one datagram from the given exporter. v9/IPFIX template
// flowsets update per-exporter state and may legitimately yield no records.
func (p *Parser) Parse(raw []byte, exporterIP string, exporterPort int) ([]*FlowRecord, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("datagram too short: %d bytes", len(raw))
	}
	version := binary.BigEndian.Uint16(raw[0:2])
	switch version {
	case 5:
		pkt, err := DecodeV5(raw)
		if err != nil {
			return nil, err
		}
		return pkt.flowRecords(exporterIP, exporterPort), nil
	case 9, 10:
		return p.parseTemplated(raw, exporterIP, exporterPort)
	default:
		return nil, fmt.Errorf("unsupported netflow version %d from %s", version, exporterIP)
	}
}
