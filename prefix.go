package datamux

// PrefixMap restricts a source's listing to keys beginning with the
// given prefixes, keyed by Source.Name().  A source with no entry (or
// a nil entry) is listed once in full.  A source with several prefixes
// is listed once per prefix, in the order given;  overlapping prefixes
// yield duplicate samples and the Mux does not dedup them, that is the
// caller's responsibility.
type PrefixMap map[string][]string

// prefixesFor returns the listing passes for a source.  No configured
// prefixes means one full (empty-prefix) pass.
func (pm PrefixMap) prefixesFor(sourceName string) []string {
	prefixes, ok := pm[sourceName]
	if !ok || prefixes == nil {
		return []string{""}
	}
	return prefixes
}
