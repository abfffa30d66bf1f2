// Package s3 stores ledger copies on S3-compatible object storage, so a
// bastion created on one runner can be torn down from another.
package s3
