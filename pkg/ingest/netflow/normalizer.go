package netflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/edgewatch/edgewatch/pkg/schema"
)

const (
	deviceVendor  = "Mikrotik"
	deviceProduct = "RouterOS"
)

// eventTime anchors an uptime-relative switch time against the export
// header: the flow happened (uptime - switched) ms before the packet left
// the router, and the packet left at unix_secs.
func eventTime(switchedMS, uptimeMS, unixSecs int64) time.Time {
	eventMS := unixSecs*1000 + (switchedMS - uptimeMS)
	return time.UnixMilli(eventMS).UTC()
}

// Normalize converts one flow record into a common event. v5/v9 records get
// their absolute times reconstructed from the export header; IPFIX records
// carry absolute times already.
func Normalize(rec *FlowRecord, ingestion time.Time) (*schema.CommonEvent, error) {
	if rec == nil {
		return nil, errors.New("nothing to normalize")
	}

	start := rec.StartTime
	end := rec.EndTime
	if rec.SysUptimeMS != nil && rec.UnixSecs != nil {
		if rec.FirstSwitchedMS != nil {
			start = timePtr(eventTime(*rec.FirstSwitchedMS, *rec.SysUptimeMS, *rec.UnixSecs))
		}
		if rec.LastSwitchedMS != nil {
			end = timePtr(eventTime(*rec.LastSwitchedMS, *rec.SysUptimeMS, *rec.UnixSecs))
		}
	}

	var duration *int64
	if start != nil && end != nil && !end.Before(*start) {
		duration = int64Ptr(end.Sub(*start).Milliseconds())
	}

	timestamp := ingestion
	if end != nil {
		timestamp = *end
	}

	ev := &schema.CommonEvent{
		Timestamp:          timestamp,
		IngestionTimestamp: ingestion,
		ReporterIP:         rec.ExporterIP,
		ReporterPort:       schema.Int(rec.ExporterPort),
		DeviceVendor:       deviceVendor,
		DeviceProduct:      deviceProduct,
		EventCategory:      schema.CategoryNetwork,
		EventType:          "flow",
		EventAction:        "traffic_flow",
		EventOutcome:       schema.OutcomeUnknown,

		FlowStartTime:            start,
		FlowEndTime:              end,
		FlowDurationMilliseconds: duration,

		SourceIP:      rec.SrcIP,
		SourcePort:    rec.SrcPort,
		DestinationIP: rec.DstIP,

		DestinationPort: rec.DstPort,

		NetworkBytesTotal:   rec.Bytes,
		NetworkPacketsTotal: rec.Packets,
		NetworkTOS:          rec.TOS,

		SourceAS:            rec.SrcAS,
		DestinationAS:       rec.DstAS,
		SourceMaskBits:      rec.SrcMask,
		DestinationMaskBits: rec.DstMask,

		Tags:   []string{"netflow", fmt.Sprintf("netflow_v%d", rec.Version)},
		RawLog: rawLog(rec),
	}

	if rec.Protocol != nil {
		ev.NetworkProtocolNumber = rec.Protocol
		ev.NetworkProtocol = ProtocolName(*rec.Protocol)
	}
	if rec.TCPFlags != nil {
		ev.NetworkTCPFlagsStr = FormatTCPFlags(*rec.TCPFlags)
		ev.NetworkTCPFlagsHex = fmt.Sprintf("0x%02X", *rec.TCPFlags)
	}
	if rec.InputIf != nil {
		ev.NetworkInputInterfaceID = strconv.Itoa(*rec.InputIf)
	}
	if rec.OutputIf != nil {
		ev.NetworkOutputInterfaceID = strconv.Itoa(*rec.OutputIf)
	}
	if len(rec.Extra) > 0 {
		ev.AdditionalFields = make(map[string]interface{}, len(rec.Extra))
		for k, v := range rec.Extra {
			ev.AdditionalFields["netflow_"+k] = v
		}
	}
	return ev, nil
}

func rawLog(rec *FlowRecord) string {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Sprintf("%+v", *rec)
	}
	return string(b)
}
