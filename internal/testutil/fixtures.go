//go:build integration || e2e

package testutil

import "encoding/binary"

// Syslog lines as MikroTik routers emit them.
const (
	// SyslogFirewallDrop is a firewall drop in the RFC3164-ish format:
	// facility 9, severity 6, topic list as the tag.
	SyslogFirewallDrop = `<78>May 31 10:10:32 MikrotikRouter firewall,info: input: in:ether1 out:(none), src-mac 00:0c:29:11:22:33, proto TCP (SYN), 192.168.1.100:12345->192.168.88.1:80, len 52`

	// SyslogLoginFailure is an authentication failure in the same format.
	SyslogLoginFailure = `<85>May 31 10:11:02 MikrotikRouter system,error,critical: login failure for user alice from 10.0.0.5 via ssh`

	// SyslogTopicsOnly is the vendor shorthand with no PRI, host or time.
	SyslogTopicsOnly = `system,info,account user admin logged in from 192.168.88.10 via winbox`
)

// V5Flow parameterizes one NetFlow v5 record for NetFlowV5Packet.
type V5Flow struct {
	SrcAddr, DstAddr            uint32
	Packets, Octets             uint32
	FirstSwitched, LastSwitched uint32
	SrcPort, DstPort            uint16
	TCPFlags, Protocol          uint8
	InputIf, OutputIf           uint16
}

// NetFlowV5Packet builds a raw v5 datagram: 24-byte header plus one 48-byte
// record per flow.
func NetFlowV5Packet(sysUptimeMS, unixSecs uint32, flows ...V5Flow) []byte {
	buf := make([]byte, 24+48*len(flows))
	binary.BigEndian.PutUint16(buf[0:2], 5)
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(flows)))
	binary.BigEndian.PutUint32(buf[4:8], sysUptimeMS)
	binary.BigEndian.PutUint32(buf[8:12], unixSecs)
	for i, f := range flows {
		b := buf[24+48*i:]
		binary.BigEndian.PutUint32(b[0:4], f.SrcAddr)
		binary.BigEndian.PutUint32(b[4:8], f.DstAddr)
		binary.BigEndian.PutUint16(b[12:14], f.InputIf)
		binary.BigEndian.PutUint16(b[14:16], f.OutputIf)
		binary.BigEndian.PutUint32(b[16:20], f.Packets)
		binary.BigEndian.PutUint32(b[20:24], f.Octets)
		binary.BigEndian.PutUint32(b[24:28], f.FirstSwitched)
		binary.BigEndian.PutUint32(b[28:32], f.LastSwitched)
		binary.BigEndian.PutUint16(b[32:34], f.SrcPort)
		binary.BigEndian.PutUint16(b[34:36], f.DstPort)
		b[37] = f.TCPFlags
		b[38] = f.Protocol
	}
	return buf
}
