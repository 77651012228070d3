// Package domain models climate-risk widget requests and their results.
//
// # Requests
//
// Widget requests arrive from the RECA dashboard naming a place, a hazard,
// an impact or exposure type, a climate scenario, and the units the caller
// wants results in. [Normalizer.Normalize] turns a raw [Request] into a
// [CanonicalRequest]:
//
//	aliases      "celsius" -> "degC", "dollars" -> "USD", "%" -> "percent"
//	place        code wins over name; country scale resolves via ISO 3166
//	scenario     year 2020 collapses name, growth and climate to "historical"
//	units        hazard, exposure, currency and warming units are validated
//
// Each [Endpoint] declares which of these fields its widget accepts, so a
// field a widget does not carry is never consulted.
//
// # Job IDs
//
// A canonical request is hashed in its native-unit form: every convertible
// unit field is replaced by the native unit of its dimension before hashing,
// so the same question asked in Fahrenheit and Celsius, or by place name and
// by place code, maps to one job. See [CanonicalRequest.JobID].
//
// # Unit-tagged results
//
// Results are stored in native units and re-expressed per request. Every
// response schema builds a tree of [Node] values pointing at its own fields:
//
//	ScalarQuantity   one optional float
//	ListQuantity     a list of floats sharing one unit
//	CompositeNode    unit tags, the quantities each tag governs, ratio
//	                 fields spanning two tags, and child nodes
//
// [ConvertTree] plans every conversion in the tree before touching a value,
// so a failure leaves the tree exactly as it was. Unconvertible labels such
// as "percent" or "person-days" pass through untouched.
package domain
