package cbi

var reasonCodes = map[string]string{
	"480": "Bonifico ricevuto",
	"260": "Disposizione di pagamento",
	"110": "Utenze",
	"780": "Versamento contanti",
	"198": "Agenzia delle Entrate",
	"50C": "SDD addebito diretto",
	"050": "Assegno",
	"270": "Stipendi",
	"450": "Effetti",
	"010": "Versamento",
	"090": "Prelevamento",
	"120": "Pagamento POS",
	"540": "Carte di credito",
	"680": "Commissioni",
	"430": "Interessi",
	"16G": "Commissioni",
	"16K": "Emissione/attivazione carta",

	// legacy two-character codes
	"48": "Bonifico ricevuto",
	"26": "Disposizione di pagamento",
	"11": "Utenze",
	"78": "Versamento contanti",
}

// ReasonDescription returns the description of a bank reason (causale ABI)
// code, or "" when the code is unknown.
func ReasonDescription(code string) string {
	return reasonCodes[code]
}
