package pcapsource_test

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/m-lab/statetrans/packet"
	"github.com/m-lab/statetrans/packet/pcapsource"
)

var (
	localMAC  = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	remoteMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// buildCapture serializes one SYN packet from localMAC to remoteMAC into a
// pcap byte stream, the way a saved capture file would arrive on disk.
func buildCapture(t *testing.T) []byte {
	t.Helper()

	eth := layers.Ethernet{
		SrcMAC:       localMAC,
		DstMAC:       remoteMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.IPv4(10, 0, 0, 1),
		DstIP:    net.IPv4(10, 0, 0, 2),
	}
	tcp := layers.TCP{
		SrcPort: 1234,
		DstPort: 80,
		SYN:     true,
		Window:  1024,
	}
	if err := tcp.SetNetworkLayerForChecksum(&ip); err != nil {
		t.Fatalf("SetNetworkLayerForChecksum: %v", err)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, &ip, &tcp); err != nil {
		t.Fatalf("SerializeLayers: %v", err)
	}

	var pcapBuf bytes.Buffer
	w := pcapgo.NewWriter(&pcapBuf)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		t.Fatalf("WriteFileHeader: %v", err)
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Unix(1700000000, 0),
		CaptureLength: len(buf.Bytes()),
		Length:        len(buf.Bytes()),
	}
	if err := w.WritePacket(ci, buf.Bytes()); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	return pcapBuf.Bytes()
}

func TestNextDecodesEthernetIPTCPChain(t *testing.T) {
	data := buildCapture(t)
	src, err := pcapsource.Open(data, "eth0", localMAC)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	pkt, err := src.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}

	ethLayer := pkt.FirstEthernet()
	if ethLayer == nil {
		t.Fatalf("FirstEthernet() = nil")
	}
	if ethLayer.Direction != packet.DirOut {
		t.Errorf("Ethernet Direction = %v, want DirOut (src matches localMAC)", ethLayer.Direction)
	}

	tcpLayer := pkt.FirstTCP()
	if tcpLayer == nil {
		t.Fatalf("FirstTCP() = nil")
	}
	if tcpLayer.SrcPort != 1234 || tcpLayer.DstPort != 80 {
		t.Errorf("ports = %d/%d, want 1234/80", tcpLayer.SrcPort, tcpLayer.DstPort)
	}
	if tcpLayer.TCPFlags&0x02 == 0 {
		t.Errorf("TCPFlags = %#x, want SYN bit set", tcpLayer.TCPFlags)
	}
	if len(tcpLayer.SrcAddr) != 0 {
		// IP addresses live on the IP-kind layer, not the TCP one.
		t.Errorf("TCP layer SrcAddr = %v, want empty (address carried by IP layer)", tcpLayer.SrcAddr)
	}

	ipLayer := pkt.FirstIP()
	if ipLayer == nil {
		t.Fatalf("FirstIP() = nil")
	}
	if ipLayer.AddrLen != 4 {
		t.Errorf("AddrLen = %d, want 4", ipLayer.AddrLen)
	}
	if net.IP(ipLayer.SrcAddr).String() != "10.0.0.1" {
		t.Errorf("SrcAddr = %v, want 10.0.0.1", net.IP(ipLayer.SrcAddr))
	}

	if _, err := src.Next(); err != io.EOF {
		t.Fatalf("second Next() error = %v, want io.EOF", err)
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	if _, err := pcapsource.Open([]byte("not a pcap file"), "eth0", localMAC); err == nil {
		t.Fatalf("Open() with garbage data returned no error")
	}
}
