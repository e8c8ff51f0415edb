// Package ir provides the value and descriptor types shared by every layer
// of plenum.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal.
//
// Key constraints:
//   - NO float types anywhere - numbers are int64
//   - Instance data never stores null; null in a write means "clear the field"
//   - All JSON tags use snake_case
//   - Instances are addressed by FQID ("collection/id"), never by pointer
package ir
