// Package secret resolves credentials referenced from callgate's
// configuration, such as the upstream API key.
//
// A configuration value is first expanded against the environment with
// ExpandEnvStrict, where a missing ${VAR} is an error. A value that then
// reads "secretref:<provider>:<ref>" is replaced by what the named Provider
// returns. References may also appear inline:
//
//	api_key: secretref:env:OPENAI_API_KEY
//	header:  Bearer secretref:file:openai.key
//
// The env provider reads environment variables and the file provider reads
// files below a base directory, which suits mounted Kubernetes secrets.
package secret
