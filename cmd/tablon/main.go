// Command tablon is a low-level inspector for boltstore database files. It
// never links against a concrete row type: everything it prints comes from
// the raw bucket layout (types, records, index.*) boltstore itself writes,
// the same way cmd/bstore in the teacher repo reads bbolt files without
// knowing the application's structs.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	bolt "go.etcd.io/bbolt"
)

func xcheckf(err error, format string, args ...any) {
	if err != nil {
		msg := fmt.Sprintf(format, args...)
		log.Fatalf("%s: %s", msg, err)
	}
}

func usage() {
	log.Println("usage: tablon types file.db")
	log.Println("       tablon dumptype file.db table")
	log.Println("       tablon keys file.db table")
	log.Println("       tablon dumpall file.db")
	flag.PrintDefaults()
	os.Exit(2)
}

func main() {
	log.SetFlags(0)
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
	}
	cmd, args := args[0], args[1:]
	switch cmd {
	default:
		usage()
	case "types":
		types(args)
	case "dumptype":
		dumptype(args)
	case "keys":
		keys(args)
	case "dumpall":
		dumpall(args)
	}
}

func xopen(path string) *bolt.DB {
	_, err := os.Stat(path)
	xcheckf(err, "stat")
	db, err := bolt.Open(path, 0600, &bolt.Options{ReadOnly: true})
	xcheckf(err, "open database")
	return db
}

func types(args []string) {
	if len(args) != 1 {
		usage()
	}
	db := xopen(args[0])
	defer db.Close()
	err := db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			fmt.Println(string(name))
			return nil
		})
	})
	xcheckf(err, "list tables")
}

// dumptype prints the most recently registered schema version for table,
// the JSON doc boltstore.Register writes into its "types" sub-bucket.
func dumptype(args []string) {
	if len(args) != 2 {
		usage()
	}
	db := xopen(args[0])
	defer db.Close()
	err := db.View(func(tx *bolt.Tx) error {
		top := tx.Bucket([]byte(args[1]))
		if top == nil {
			return fmt.Errorf("no bucket for table %q", args[1])
		}
		tb := top.Bucket([]byte("types"))
		if tb == nil {
			return fmt.Errorf("missing types bucket for table %q", args[1])
		}
		k, v := tb.Cursor().Last()
		if k == nil {
			return fmt.Errorf("no schema versions recorded for table %q", args[1])
		}
		var doc any
		if err := json.Unmarshal(v, &doc); err != nil {
			return fmt.Errorf("unmarshal schema: %w", err)
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "\t")
		return enc.Encode(doc)
	})
	xcheckf(err, "dumptype")
}

// keys lists every raw record key in table's records bucket, hex-encoded
// since the wire format of the key depends on a layout this tool does not
// have compiled in.
func keys(args []string) {
	if len(args) != 2 {
		usage()
	}
	db := xopen(args[0])
	defer db.Close()
	err := db.View(func(tx *bolt.Tx) error {
		top := tx.Bucket([]byte(args[1]))
		if top == nil {
			return fmt.Errorf("no bucket for table %q", args[1])
		}
		rb := top.Bucket([]byte("records"))
		if rb == nil {
			return fmt.Errorf("missing records bucket for table %q", args[1])
		}
		c := rb.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			fmt.Printf("%x\n", k)
		}
		return nil
	})
	xcheckf(err, "keys")
}

func dumpall(args []string) {
	if len(args) != 1 {
		usage()
	}
	db := xopen(args[0])
	defer db.Close()
	err := db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, b *bolt.Bucket) error {
			fmt.Println("#", string(name))
			var indices []string
			err := b.ForEach(func(bk, bv []byte) error {
				if bytes.HasPrefix(bk, []byte("index.")) {
					indices = append(indices, string(bk))
				} else {
					switch string(bk) {
					case "records", "types", "meta":
					default:
						log.Printf("unrecognized sub-bucket %q for table %q", bk, name)
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			sort.Strings(indices)

			tb := b.Bucket([]byte("types"))
			if tb == nil {
				log.Printf("missing types bucket for %q", name)
			} else {
				fmt.Println("## types")
				err := tb.ForEach(func(bk, bv []byte) error {
					fmt.Printf("\t%s\n", bv)
					return nil
				})
				if err != nil {
					return err
				}
				fmt.Println()
			}

			for _, idx := range indices {
				ib := b.Bucket([]byte(idx))
				if ib == nil {
					log.Printf("missing index bucket for table %q index %q", name, idx)
					continue
				}
				fmt.Printf("## %s\n", idx)
				err := ib.ForEach(func(bk, bv []byte) error {
					fmt.Printf("\t%x\n", bk)
					return nil
				})
				if err != nil {
					return err
				}
				fmt.Println()
			}

			rb := b.Bucket([]byte("records"))
			if rb == nil {
				log.Printf("missing records bucket for table %q", name)
				return nil
			}
			fmt.Println("## records")
			err = rb.ForEach(func(bk, bv []byte) error {
				fmt.Printf("\t%x %x\n", bk, bv)
				return nil
			})
			return err
		})
	})
	xcheckf(err, "dumpall")
}
