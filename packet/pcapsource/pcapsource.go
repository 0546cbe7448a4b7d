// Package pcapsource adapts a pcap capture file into the packet.PacketInfo
// stream the core consumes, for offline replay and local testing of
// statetransd against a saved capture instead of a live interface.
//
// Grounded on _examples/m-lab-etl/tcpip/tcpip.go's ProcessPackets/Wrap pair
// (pcapgo.NewReader, loop over ReadPacketData, per-packet decode), adapted
// to use gopacket's own DecodingLayerParser instead of tcpip.go's unsafe
// header overlays: pcapsource is a boundary collaborator feeding the core a
// handful of packets per conversation, not the copy-avoiding hot path
// tcpip.go optimizes for, so the simpler standard-library-of-gopacket
// decoding path is the better fit here (see DESIGN.md).
package pcapsource

import (
	"bytes"
	"fmt"
	"io"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/m-lab/statetrans/packet"
)

// Source reads packets from a pcap file, in file order, decoding each into
// the core's packet.PacketInfo chain (Ethernet -> IP -> TCP/UDP/ICMP).
//
// Direction is derived by comparing the Ethernet source address against
// localMAC: a packet whose source is the local host's interface is DirOut,
// anything else DirIn. With a nil localMAC every packet is DirUnknown. This mirrors spec.md's host-resident placement,
// where one capture device sees both halves of every local conversation.
type Source struct {
	r        *pcapgo.Reader
	localMAC net.HardwareAddr
	iface    string

	eth layers.Ethernet
	ip4 layers.IPv4
	ip6 layers.IPv6
	tcp layers.TCP
	udp layers.UDP
	icm layers.ICMPv4
	ic6 layers.ICMPv6

	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// Open constructs a Source reading from an in-memory pcap capture. iface
// names the originating interface, recorded on every decoded layer for
// logging/debugging; localMAC is this host's interface address, used to
// classify packet direction.
func Open(data []byte, iface string, localMAC net.HardwareAddr) (*Source, error) {
	r, err := pcapgo.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("pcapsource: %w", err)
	}
	s := &Source{r: r, localMAC: localMAC, iface: iface}
	s.parser = gopacket.NewDecodingLayerParser(
		layers.LayerTypeEthernet,
		&s.eth, &s.ip4, &s.ip6, &s.tcp, &s.udp, &s.icm, &s.ic6,
	)
	// Don't fail the whole capture just because one packet carries a layer
	// we don't decode (e.g. ARP): with IgnoreUnsupported set, DecodeLayers
	// stops at such a layer without an UnsupportedLayerType error, and Next
	// skips any packet that ends up without an Ethernet and an IP layer.
	s.parser.IgnoreUnsupported = true
	return s, nil
}

// Next decodes and returns the next packet in the capture, or io.EOF once
// the capture is exhausted. Packets without both an Ethernet and an IP
// layer are skipped.
func (s *Source) Next() (*packet.PacketInfo, error) {
	data, ci, err := s.r.ReadPacketData()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("pcapsource: reading packet: %w", err)
	}

	s.decoded = s.decoded[:0]
	if err := s.parser.DecodeLayers(data, &s.decoded); err != nil {
		return nil, fmt.Errorf("pcapsource: decoding packet: %w", err)
	}

	tsUs := ci.Timestamp.UnixNano() / 1000

	var head, tail *packet.Layer
	link := func(l *packet.Layer) {
		if head == nil {
			head, tail = l, l
			return
		}
		tail.Next = l
		tail = l
	}

	var haveEthernet, haveIP bool
	for _, lt := range s.decoded {
		switch lt {
		case layers.LayerTypeEthernet:
			haveEthernet = true
			link(&packet.Layer{
				Interface:   s.iface,
				TimestampUs: tsUs,
				Direction:   s.direction(s.eth.SrcMAC),
				Kind:        packet.KindEthernet,
				EtherType:   s.eth.EthernetType,
			})
		case layers.LayerTypeIPv4:
			haveIP = true
			link(&packet.Layer{
				Interface:   s.iface,
				TimestampUs: tsUs,
				Direction:   s.directionFromEthernet(),
				Kind:        packet.KindIP,
				AddrLen:     4,
				SrcAddr:     []byte(s.ip4.SrcIP.To4()),
				DstAddr:     []byte(s.ip4.DstIP.To4()),
				IPProtocol:  4,
				FragOffset:  s.ip4.FragOffset,
			})
		case layers.LayerTypeIPv6:
			haveIP = true
			link(&packet.Layer{
				Interface:   s.iface,
				TimestampUs: tsUs,
				Direction:   s.directionFromEthernet(),
				Kind:        packet.KindIP,
				AddrLen:     16,
				SrcAddr:     []byte(s.ip6.SrcIP.To16()),
				DstAddr:     []byte(s.ip6.DstIP.To16()),
				IPProtocol:  6,
			})
		case layers.LayerTypeTCP:
			link(&packet.Layer{
				Interface:   s.iface,
				TimestampUs: tsUs,
				Direction:   s.directionFromEthernet(),
				Kind:        packet.KindOther,
				App:         packet.AppTCP,
				SrcPort:     uint16(s.tcp.SrcPort),
				DstPort:     uint16(s.tcp.DstPort),
				TCPFlags:    tcpFlagByte(&s.tcp),
				TCPPortKind: s.tcp.SrcPort,
			})
		case layers.LayerTypeUDP:
			link(&packet.Layer{
				Interface: s.iface,
				App:       packet.AppUDP,
				SrcPort:   uint16(s.udp.SrcPort),
				DstPort:   uint16(s.udp.DstPort),
			})
		}
	}

	if !haveEthernet || !haveIP || head == nil {
		return s.Next()
	}
	return &packet.PacketInfo{First: head}, nil
}

func (s *Source) direction(srcMAC net.HardwareAddr) packet.Direction {
	if s.localMAC == nil {
		return packet.DirUnknown
	}
	if bytes.Equal(srcMAC, s.localMAC) {
		return packet.DirOut
	}
	return packet.DirIn
}

func (s *Source) directionFromEthernet() packet.Direction {
	return s.direction(s.eth.SrcMAC)
}

func tcpFlagByte(t *layers.TCP) uint8 {
	var f uint8
	if t.FIN {
		f |= 0x01
	}
	if t.SYN {
		f |= 0x02
	}
	if t.RST {
		f |= 0x04
	}
	if t.PSH {
		f |= 0x08
	}
	if t.ACK {
		f |= 0x10
	}
	if t.URG {
		f |= 0x20
	}
	return f
}
