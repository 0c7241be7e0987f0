// Package fingerprint 维护常见端口到服务名称的对照表。
package fingerprint

import "sort"

// Unknown 是未收录端口的服务名称。
const Unknown = "Unknown"

var wellKnown = map[int]string{
	21:   "FTP",
	22:   "SSH",
	23:   "Telnet",
	25:   "SMTP",
	53:   "DNS",
	80:   "HTTP",
	110:  "POP3",
	135:  "RPC",
	139:  "NetBIOS",
	143:  "IMAP",
	443:  "HTTPS",
	445:  "SMB",
	993:  "IMAPS",
	995:  "POP3S",
	1723: "PPTP",
	3306: "MySQL",
	3389: "RDP",
	5432: "PostgreSQL",
	5900: "VNC",
	6379: "Redis",
	8080: "HTTP-Alt",
	8443: "HTTPS-Alt",
}

// Lookup 查询端口对应的服务名称。
func Lookup(port int) (string, bool) {
	name, ok := wellKnown[port]
	return name, ok
}

// NameForPort 返回端口的服务名称，未收录时返回 Unknown。
func NameForPort(port int) string {
	if name, ok := wellKnown[port]; ok {
		return name
	}
	return Unknown
}

// Entry 是服务名称表中的一项。
type Entry struct {
	Port    int    `json:"port"`
	Service string `json:"service"`
}

// Table 按端口升序返回完整的服务名称表。
func Table() []Entry {
	out := make([]Entry, 0, len(wellKnown))
	for port, name := range wellKnown {
		out = append(out, Entry{Port: port, Service: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}
