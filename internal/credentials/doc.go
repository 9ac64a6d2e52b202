// Package credentials stores the API key and OAuth token of one profile.
//
// A Store reads and writes through a secretstore.Backend using the shared
// "{profile}:{field}" keys, so keyring and file representations of the same
// profile stay interchangeable. Lookups report absence with ok=false or a nil
// token; only caller mistakes such as an empty API key come back as errors
// worth showing to a user (see ValidationError).
package credentials
