package packet_test

import (
	"testing"

	"github.com/go-test/deep"

	"github.com/m-lab/statetrans/packet"
)

func chain() *packet.PacketInfo {
	eth := &packet.Layer{Kind: packet.KindEthernet, TimestampUs: 100, SrcAddr: []byte{1, 2, 3, 4, 5, 6}}
	ip := &packet.Layer{Kind: packet.KindIP, IPProtocol: 4}
	tcp := &packet.Layer{App: packet.AppTCP, SrcPort: 1234, DstPort: 80, TCPFlags: 0x02}
	eth.Next = ip
	ip.Next = tcp
	return &packet.PacketInfo{First: eth}
}

func TestFirstEthernetAndFirstTCP(t *testing.T) {
	p := chain()
	if eth := p.FirstEthernet(); eth == nil || eth.Kind != packet.KindEthernet {
		t.Fatalf("FirstEthernet() = %v, want the Ethernet link", eth)
	}
	if tcp := p.FirstTCP(); tcp == nil || tcp.App != packet.AppTCP {
		t.Fatalf("FirstTCP() = %v, want the TCP-bearing link", tcp)
	}
}

func TestFirstIP(t *testing.T) {
	p := chain()
	ip := p.FirstIP()
	if ip == nil || ip.Kind != packet.KindIP {
		t.Fatalf("FirstIP() = %v, want the IP-bearing link", ip)
	}
	if ip.IPProtocol != 4 {
		t.Fatalf("FirstIP().IPProtocol = %d, want 4 (addresses/version live on the IP layer, not the TCP layer)", ip.IPProtocol)
	}
}

func TestFirstIPMissing(t *testing.T) {
	p := &packet.PacketInfo{First: &packet.Layer{Kind: packet.KindEthernet}}
	if ip := p.FirstIP(); ip != nil {
		t.Fatalf("FirstIP() = %v, want nil for a chain with no IP layer", ip)
	}
}

func TestFirstTCPMissing(t *testing.T) {
	p := &packet.PacketInfo{First: &packet.Layer{Kind: packet.KindEthernet}}
	if tcp := p.FirstTCP(); tcp != nil {
		t.Fatalf("FirstTCP() = %v, want nil for a chain with no TCP layer", tcp)
	}
}

func TestTimestampUsFromFirstLayer(t *testing.T) {
	p := chain()
	if got := p.TimestampUs(); got != 100 {
		t.Fatalf("TimestampUs() = %d, want 100", got)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	p := chain()
	clone := p.Clone()

	if diff := deep.Equal(clone.FirstEthernet().SrcAddr, p.FirstEthernet().SrcAddr); diff != nil {
		t.Fatalf("clone address bytes diff from original: %v", diff)
	}

	// Mutating the original's address bytes must not affect the clone: the
	// packetbuffer reorder FIFO relies on Clone() owning independent memory.
	p.FirstEthernet().SrcAddr[0] = 0xff
	if clone.FirstEthernet().SrcAddr[0] == 0xff {
		t.Fatalf("Clone() shared the underlying SrcAddr slice with the original")
	}

	// The link count and field values must match.
	orig := chain()
	var origLayers, cloneLayers int
	for l := orig.First; l != nil; l = l.Next {
		origLayers++
	}
	for l := clone.First; l != nil; l = l.Next {
		cloneLayers++
	}
	if origLayers != cloneLayers {
		t.Fatalf("Clone() produced %d layers, want %d", cloneLayers, origLayers)
	}
	if diff := deep.Equal(clone, orig); diff != nil {
		t.Fatalf("Clone() field values diff from the original chain: %v", diff)
	}
}

func TestCloneNil(t *testing.T) {
	var p *packet.PacketInfo
	if got := p.Clone(); got != nil {
		t.Fatalf("Clone() of nil = %v, want nil", got)
	}
}

func TestAppKindByte(t *testing.T) {
	cases := map[packet.AppKind]byte{
		packet.AppTCP:     'T',
		packet.AppUDP:     'U',
		packet.AppICMP:    'i',
		packet.AppICMPv6:  'I',
		packet.AppEncapV4: '4',
		packet.AppEncapV6: '6',
		packet.AppUnknown: '?',
	}
	for kind, want := range cases {
		if got := kind.Byte(); got != want {
			t.Errorf("AppKind(%d).Byte() = %q, want %q", kind, got, want)
		}
	}
}
