package netflow

import (
	"bytes"
	"fmt"
	"net"
	"time"

	netflowdec "github.com/netsampler/goflow2/decoders/netflow"
	"github.com/netsampler/goflow2/producer"
)

// Field type numbers shared by NetFlow v9 and IPFIX.
const (
	fieldInBytes     = 1
	fieldInPackets   = 2
	fieldProtocol    = 4
	fieldSrcTOS      = 5
	fieldTCPFlags    = 6
	fieldL4SrcPort   = 7
	fieldIPv4SrcAddr = 8
	fieldSrcMask     = 9
	fieldInputSNMP   = 10
	fieldL4DstPort   = 11
	fieldIPv4DstAddr = 12
	fieldDstMask     = 13
	fieldOutputSNMP  = 14
	fieldIPv4NextHop = 15
	fieldSrcAS       = 16
	fieldDstAS       = 17
	fieldLastSwitch  = 21
	fieldFirstSwitch = 22
	fieldIPv6SrcAddr = 27
	fieldIPv6DstAddr = 28

	// IPFIX absolute timestamps.
	fieldFlowStartSeconds = 150
	fieldFlowEndSeconds   = 151
	fieldFlowStartMillis  = 152
	fieldFlowEndMillis    = 153
)

func (p *Parser) parseTemplated(raw []byte, exporterIP string, exporterPort int) ([]*FlowRecord, error) {
	sys := p.templates.system(exporterIP)
	msg, err := netflowdec.DecodeMessage(bytes.NewBuffer(raw), sys)
	if err != nil {
		return nil, fmt.Errorf("decode templated netflow from %s: %w", exporterIP, err)
	}

	switch pkt := msg.(type) {
	case netflowdec.NFv9Packet:
		dataFS, _, _, _ := producer.SplitNetFlowSets(pkt)
		uptime := int64(pkt.SystemUptime)
		secs := int64(pkt.UnixSeconds)
		var out []*FlowRecord
		for _, fs := range dataFS {
			for _, dr := range fs.Records {
				rec := &FlowRecord{
					Version:      9,
					ExporterIP:   exporterIP,
					ExporterPort: exporterPort,
					SysUptimeMS:  &uptime,
					UnixSecs:     &secs,
				}
				for _, f := range dr.Values {
					applyField(rec, f.Type, f.Value)
				}
				out = append(out, rec)
			}
		}
		return out, nil
	case netflowdec.IPFIXPacket:
		dataFS, _, _, _ := producer.SplitIPFIXSets(pkt)
		var out []*FlowRecord
		for _, fs := range dataFS {
			for _, dr := range fs.Records {
				rec := &FlowRecord{
					Version:      10,
					ExporterIP:   exporterIP,
					ExporterPort: exporterPort,
				}
				for _, f := range dr.Values {
					applyField(rec, f.Type, f.Value)
				}
				out = append(out, rec)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected templated packet %T from %s", msg, exporterIP)
	}
}

// applyField maps one template field onto the flow record. Unknown fields
// land in Extra so nothing the exporter sent is silently dropped.
func applyField(rec *FlowRecord, typ uint16, value interface{}) {
	v, ok := value.([]byte)
	if !ok {
		return
	}
	switch typ {
	case fieldIPv4SrcAddr, fieldIPv6SrcAddr:
		if ip := fieldIP(v); ip != "" {
			rec.SrcIP = ip
		}
	case fieldIPv4DstAddr, fieldIPv6DstAddr:
		if ip := fieldIP(v); ip != "" {
			rec.DstIP = ip
		}
	case fieldIPv4NextHop:
		if ip := fieldIP(v); ip != "" {
			rec.NextHop = ip
		}
	case fieldInBytes:
		rec.Bytes = fieldInt64(v)
	case fieldInPackets:
		rec.Packets = fieldInt64(v)
	case fieldProtocol:
		rec.Protocol = fieldInt(v)
	case fieldSrcTOS:
		rec.TOS = fieldInt(v)
	case fieldTCPFlags:
		rec.TCPFlags = fieldInt(v)
	case fieldL4SrcPort:
		rec.SrcPort = fieldInt(v)
	case fieldL4DstPort:
		rec.DstPort = fieldInt(v)
	case fieldInputSNMP:
		rec.InputIf = fieldInt(v)
	case fieldOutputSNMP:
		rec.OutputIf = fieldInt(v)
	case fieldSrcAS:
		rec.SrcAS = fieldInt(v)
	case fieldDstAS:
		rec.DstAS = fieldInt(v)
	case fieldSrcMask:
		rec.SrcMask = fieldInt(v)
	case fieldDstMask:
		rec.DstMask = fieldInt(v)
	case fieldFirstSwitch:
		// Uptime-relative in v9. IPFIX defines 22 as flowStartSysUpTime,
		// which has no anchor without the init-time element, so it only
		// feeds reconstruction for v9 packets.
		if rec.Version == 9 {
			rec.FirstSwitchedMS = fieldInt64(v)
		} else {
			extraField(rec, typ, v)
		}
	case fieldLastSwitch:
		if rec.Version == 9 {
			rec.LastSwitchedMS = fieldInt64(v)
		} else {
			extraField(rec, typ, v)
		}
	case fieldFlowStartSeconds:
		if n := fieldInt64(v); n != nil {
			rec.StartTime = timePtr(time.Unix(*n, 0).UTC())
		}
	case fieldFlowEndSeconds:
		if n := fieldInt64(v); n != nil {
			rec.EndTime = timePtr(time.Unix(*n, 0).UTC())
		}
	case fieldFlowStartMillis:
		if n := fieldInt64(v); n != nil {
			rec.StartTime = timePtr(time.UnixMilli(*n).UTC())
		}
	case fieldFlowEndMillis:
		if n := fieldInt64(v); n != nil {
			rec.EndTime = timePtr(time.UnixMilli(*n).UTC())
		}
	default:
		extraField(rec, typ, v)
	}
}

func extraField(rec *FlowRecord, typ uint16, v []byte) {
	n := fieldInt64(v)
	if n == nil {
		return
	}
	if rec.Extra == nil {
		rec.Extra = make(map[string]interface{})
	}
	rec.Extra[fmt.Sprintf("field_%d", typ)] = *n
}

func fieldIP(v []byte) string {
	if len(v) != 4 && len(v) != 16 {
		return ""
	}
	return net.IP(v).String()
}

func fieldInt64(v []byte) *int64 {
	var n uint64
	if err := producer.DecodeUNumber(v, &n); err != nil {
		return nil
	}
	out := int64(n)
	return &out
}

func fieldInt(v []byte) *int {
	n := fieldInt64(v)
	if n == nil {
		return nil
	}
	out := int(*n)
	return &out
}

func timePtr(t time.Time) *time.Time { return &t }
