package reactor

import "testing"

func TestParseAddress_DottedQuad(t *testing.T) {
	a, err := ParseAddress("192.168.1.5:8080")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if a.Port() != 8080 {
		t.Fatalf("Port() = %d, want 8080", a.Port())
	}
	if got := a.IP(); got != [4]byte{192, 168, 1, 5} {
		t.Fatalf("IP() = %v, want 192.168.1.5", got)
	}
	if a.String() != "192.168.1.5:8080" {
		t.Fatalf("String() = %q", a.String())
	}
}

func TestParseAddress_InvalidPort(t *testing.T) {
	if _, err := ParseAddress("127.0.0.1:not-a-port"); err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestParseAddress_MissingPort(t *testing.T) {
	if _, err := ParseAddress("127.0.0.1"); err == nil {
		t.Fatal("expected error for missing port")
	}
}

func TestParseAddress_Hostname(t *testing.T) {
	a, err := ParseAddress("localhost:53")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if !a.Valid() {
		t.Fatal("expected resolved address to be valid")
	}
}

func TestAddress_InvalidZeroValue(t *testing.T) {
	var a Address
	if a.Valid() {
		t.Fatal("zero-value Address should not be valid")
	}
	if a.String() != "<invalid>" {
		t.Fatalf("String() = %q, want <invalid>", a.String())
	}
}

func TestAddress_TCPAndUDPAddr(t *testing.T) {
	a := NewAddress(10, 0, 0, 1, 9000)
	tcpAddr := a.TCPAddr()
	if tcpAddr.Port != 9000 || tcpAddr.IP.String() != "10.0.0.1" {
		t.Fatalf("TCPAddr() = %+v", tcpAddr)
	}
	udpAddr := a.UDPAddr()
	if udpAddr.Port != 9000 || udpAddr.IP.String() != "10.0.0.1" {
		t.Fatalf("UDPAddr() = %+v", udpAddr)
	}
}
