// Package publish mirrors verified scene archives into object storage.
//
// Buckets are addressed by URL and opened with gocloud.dev, so any
// registered driver works: file:// for a shared directory, s3:// and
// gs:// for cloud buckets, mem:// in tests. Drivers are linked in by the
// binaries.
//
//	pub, err := publish.Open(ctx, "s3://scenes?region=us-west-2", publish.Options{Prefix: "landsat"})
//	if err != nil {
//	    return err
//	}
//	defer pub.Close()
//
//	err = pub.Publish(ctx, "data/raw/landsat/LT05_L1TP_016037_20010723_20161128_01_T1.tar")
package publish
