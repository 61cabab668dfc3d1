// Package datamux flattens object-storage sources (gcs, s3, azure,
// sftp, localfs) into a single lazy stream of samples and hands each
// parallel data-loading worker a disjoint, strided slice of that
// stream.
package datamux

// Creating sources and streaming one worker's slice of the samples
//
// 		// This is an example of a local-storage (local filesystem) source:
//		conf := &datamux.Config{
//			Type:       localfs.SourceType,
//			AuthMethod: localfs.AuthFileSystem,
//			LocalFS:    "/tmp/mockcloud",
//			Bucket:     "training",
//		}
//		src, _ := datamux.NewSource(conf)
//
//		mux, _ := datamux.NewMux([]datamux.Source{src},
//			datamux.WithPrefixes(datamux.PrefixMap{src.Name(): {"cats/", "dogs/"}}))
//
//		// Each worker independently rebuilds the flat sequence and
//		// takes every worker_count'th sample starting at its index.
//		iter := mux.WorkerSamples(context.Background(), datamux.WorkerInfo{Index: 0, Count: 4})
//		for {
//			s, err := iter.Next()
//			if err == iterator.Done {
//				break
//			}
//			log.Printf("sample %v", s.Key())
//		}
