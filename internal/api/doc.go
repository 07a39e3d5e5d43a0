// Package api provides the ERCOT public reports client: a token manager for
// the B2C password-credential flow and a paginated report fetcher.
//
// Endpoints:
//   - Token: https://ercotb2c.b2clogin.com/ercotb2c.onmicrosoft.com/B2C_1_PUBAPI-ROPC-FLOW/oauth2/v2.0/token
//   - Reports: https://api.ercot.com/api/public-reports
//
// Report responses carry a `_meta` block with totalRecords and totalPages, a
// `fields` list, and a `data` array of rows.
package api
