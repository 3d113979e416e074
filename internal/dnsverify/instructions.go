package dnsverify

// CNAMETarget is the platform hostname brands point their passport subdomain
// at once ownership is proven.
const CNAMETarget = "domains.avelero.com"

// InstructionTTL is the TTL, in seconds, suggested for both setup records.
// Low on purpose so a corrected record propagates quickly during setup.
const InstructionTTL = 300

// DNSRecord is one record the brand must create at its DNS provider. Host
// values are relative to the registrable domain's zone (e.g. "_avelero-verification.passport",
// not the FQDN) to match how providers present record forms.
type DNSRecord struct {
	Type  string `json:"type"`
	Host  string `json:"host"`
	Value string `json:"value"`
	TTL   int    `json:"ttl"`
}

// InstructionPair is the two records required for a custom domain: the TXT
// ownership challenge and the CNAME that routes traffic to the platform.
type InstructionPair struct {
	TXT   DNSRecord `json:"txt"`
	CNAME DNSRecord `json:"cname"`
}

// BuildInstructions derives the setup records for domain carrying token.
// Pure string work keyed by public-suffix rules: no I/O, identical output for
// identical input. For an apex domain the TXT host is the bare label and the
// CNAME host is the "@" apex placeholder.
func BuildInstructions(domain, token string) (InstructionPair, error) {
	_, subdomain, err := PublicSuffixSplitter().Split(domain)
	if err != nil {
		return InstructionPair{}, err
	}

	txtHost := VerificationLabel
	cnameHost := "@"
	if subdomain != "" {
		txtHost = VerificationLabel + "." + subdomain
		cnameHost = subdomain
	}

	return InstructionPair{
		TXT: DNSRecord{
			Type:  "TXT",
			Host:  txtHost,
			Value: token,
			TTL:   InstructionTTL,
		},
		CNAME: DNSRecord{
			Type:  "CNAME",
			Host:  cnameHost,
			Value: CNAMETarget,
			TTL:   InstructionTTL,
		},
	}, nil
}
