// Package processing holds the request accounting helpers shared by the
// provider adapters.
//
//   - tokens: character based token estimation for backends that do not
//     report usage
//   - costs: USD cost calculation from per-model pricing
package processing
