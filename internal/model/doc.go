// Package model defines the wire envelope and the shared state types of the
// collaborative-editing sync layer.
//
// Every frame on the wire is a JSON object:
//
//	{"type": "...", "userId": "...", "userName": "...", "userRole": "...",
//	 "timestamp": 1709283600000, "data": {...}}
//
// Conventions:
//   - Timestamps: written as epoch milliseconds, read as epoch milliseconds or ISO-8601
//   - Item ids: opaque strings owned by the document (e.g. "X12", "R07")
//   - Optional values: pointers, encoded as null or omitted
package model
