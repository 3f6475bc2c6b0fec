//
// Package oai implements the protocol side of the harvester. The Open
// Archives Initiative Protocol for Metadata Harvesting (OAI-PMH) is a low-
// barrier mechanism for repository interoperability.
//
// A Harvester sends requests and repeats those that fail for transient
// reasons. List verbs are driven by a Session, which follows resumption
// tokens until the list ends:
//
//	h := oai.NewHarvester(oai.NewClient(time.Minute))
//	s := h.Open(oai.Request{
//		Endpoint: "http://digitalcommons.unmc.edu/do/oai/",
//		Verb:     oai.VerbListRecords,
//		Prefix:   "oai_dc",
//	})
//	for s.Next(ctx) {
//		for _, r := range s.Page().Records { ... }
//	}
//	if err := s.Err(); err != nil { ... }
//
package oai
