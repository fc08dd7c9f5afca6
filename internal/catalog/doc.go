// Package catalog describes the dataset, file and replica records produced
// by metadata harvesting and provides lookups over them.
//
// # Implementations
//
//   - [Memory]: in-process map, used by tests and one-shot runs
//   - [BoltStore]: records persisted in a BoltDB file
//   - [Cache]: memoizing wrapper shared by all download workers
//
// # Record Format
//
//	{
//	  "instance_id": "cmip5.output1.MOHC.HadGEM2-ES.rcp85.mon.atmos.Amon.r1i1p1.v20120114",
//	  "metadata": {"project": "CMIP5", "model": "HadGEM2-ES", ...},
//	  "files": [
//	    {
//	      "instance_id": "tas_Amon_HadGEM2-ES_rcp85_r1i1p1_200512-203011.nc",
//	      "size": 123456789,
//	      "checksum": "9f86d0...",
//	      "checksum_type": "SHA256",
//	      "replicas": [
//	        {"data_node": "esgf.example.org", "services": {"HTTPServer": "https://..."}}
//	      ]
//	    }
//	  ]
//	}
package catalog
