package classify

// Category pairs a taxonomy label with the natural-language definition the
// vector space is fitted over.
type Category struct {
	Name       string
	Definition string
}

// Taxonomy is the fixed, closed set of threat categories. Every classified
// record's primary type is one of these labels.
var Taxonomy = []Category{
	{"Malware", "Malicious software designed to damage, disrupt, or gain unauthorized access to systems."},
	{"Ransomware", "Malware that encrypts data and demands payment for decryption."},
	{"Phishing", "Social engineering attacks using deceptive emails or messages to steal credentials."},
	{"Vulnerability", "A security weakness in software or hardware that can be exploited."},
	{"Zero-Day", "A vulnerability exploited before a patch is available."},
	{"Data Breach", "Unauthorized exposure or theft of sensitive data."},
	{"Supply Chain Attack", "Compromise of software or hardware through third-party vendors."},
	{"APT / Nation-State Activity", "Advanced persistent threats linked to state-sponsored actors."},
	{"Insider Threat", "Malicious or negligent actions by authorized users."},
	{"Credential Compromise", "Unauthorized access due to stolen or leaked credentials."},
	{"Dark Web Sale / Leak", "Sale or publication of stolen data on underground markets."},
	{"Exploit Proof-of-Concept", "Demonstration code showing how a vulnerability can be exploited."},
	{"Command-and-Control Activity", "Infrastructure used to control compromised systems."},
	{"Reconnaissance / Scanning", "Scanning or probing systems to identify attack surfaces."},
}

// IsTaxonomyType reports whether label is a member of the fixed taxonomy.
func IsTaxonomyType(label string) bool {
	for _, c := range Taxonomy {
		if c.Name == label {
			return true
		}
	}
	return false
}
