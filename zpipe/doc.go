/*
	Package zpipe holds the primitives shared by the chunked-array pipeline:
	logging, N-d points, chunk grid geometry, element data types and keyword
	configuration.

	The pipeline itself lives in subpackages:

		indexing   translates selections into per-chunk operations
		codec      chunk encoders and decoders, including sharding
		storage    key/byte-range stores and their engines
		metadata   array metadata documents
		pipeline   concurrency balancing and chunk execution
		config     TOML configuration
*/
package zpipe

// Version is the zpipe release.
const Version = "0.3.0"
