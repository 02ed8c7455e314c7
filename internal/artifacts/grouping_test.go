package artifacts

import (
	"errors"
	"testing"
	"time"
)

func newTestGrouping(retention time.Duration) (*Grouping, *[]Group) {
	var emitted []Group
	g := NewGrouping(
		[]string{ImagesSubdir, MetadataSubdir},
		[]string{"jpg", "txt"},
		retention,
		func(grp Group) { emitted = append(emitted, grp) },
		nil,
	)
	return g, &emitted
}

func TestGrouping_PairsInEitherOrder(t *testing.T) {
	orders := map[string][2]string{
		"image-first":     {"/data/1883/Images/0001.jpg", "/data/1883/Metadata/0001.txt"},
		"inference-first": {"/data/1883/Metadata/0001.txt", "/data/1883/Images/0001.jpg"},
	}

	for name, files := range orders {
		t.Run(name, func(t *testing.T) {
			g, emitted := newTestGrouping(time.Minute)

			if err := g.Register(files[0]); err != nil {
				t.Fatal(err)
			}
			if len(*emitted) != 0 {
				t.Fatalf("half a pair emitted %d groups", len(*emitted))
			}
			if err := g.Register(files[1]); err != nil {
				t.Fatal(err)
			}

			if len(*emitted) != 1 {
				t.Fatalf("got %d emissions, want exactly 1", len(*emitted))
			}
			grp := (*emitted)[0]
			if grp.Stem != "0001" || grp.Evicted {
				t.Fatalf("unexpected group %+v", grp)
			}
			if grp.Path("jpg") == "" || grp.Path("txt") == "" {
				t.Fatalf("group missing a side: %+v", grp.Files)
			}
		})
	}
}

func TestGrouping_LoneSideWaits(t *testing.T) {
	g, emitted := newTestGrouping(time.Minute)

	if err := g.Register("/data/1883/Metadata/0002.txt"); err != nil {
		t.Fatal(err)
	}
	g.Sweep()
	if len(*emitted) != 0 {
		t.Fatalf("lone inference emitted %d groups before retention expired", len(*emitted))
	}

	if err := g.Register("/data/1883/Images/0002.jpg"); err != nil {
		t.Fatal(err)
	}
	if len(*emitted) != 1 || (*emitted)[0].Evicted {
		t.Fatalf("pair completion not emitted: %+v", *emitted)
	}
}

func TestGrouping_UnknownParentRejected(t *testing.T) {
	g, _ := newTestGrouping(time.Minute)

	err := g.Register("/data/1883/Thumbnails/0001.jpg")
	var groupingErr *FileGroupingError
	if !errors.As(err, &groupingErr) || groupingErr.Parent != "Thumbnails" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestGrouping_EvictionEmitsIncomplete(t *testing.T) {
	g, emitted := newTestGrouping(10 * time.Millisecond)

	if err := g.Register("/data/1883/Images/0003.jpg"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)
	g.Sweep()

	if len(*emitted) != 1 {
		t.Fatalf("got %d emissions, want 1 evicted group", len(*emitted))
	}
	grp := (*emitted)[0]
	if !grp.Evicted || grp.Path("jpg") == "" || grp.Path("txt") != "" {
		t.Fatalf("unexpected evicted group %+v", grp)
	}
	if g.EvictedCount() != 1 {
		t.Fatalf("EvictedCount = %d, want 1", g.EvictedCount())
	}
}

func TestGrouping_EmitsInArrivalOrder(t *testing.T) {
	g, emitted := newTestGrouping(time.Minute)

	// 0004 arrives first but completes second: it must still be
	// emitted ahead of 0005.
	mustRegister(t, g, "/d/1/Images/0004.jpg")
	mustRegister(t, g, "/d/1/Images/0005.jpg")
	mustRegister(t, g, "/d/1/Metadata/0005.txt")
	if len(*emitted) != 0 {
		t.Fatalf("0005 emitted ahead of the older pending 0004")
	}
	mustRegister(t, g, "/d/1/Metadata/0004.txt")

	if len(*emitted) != 2 {
		t.Fatalf("got %d emissions, want 2", len(*emitted))
	}
	if (*emitted)[0].Stem != "0004" || (*emitted)[1].Stem != "0005" {
		t.Fatalf("groups out of arrival order: %s then %s", (*emitted)[0].Stem, (*emitted)[1].Stem)
	}
}

func mustRegister(t *testing.T, g *Grouping, path string) {
	t.Helper()
	if err := g.Register(path); err != nil {
		t.Fatal(err)
	}
}
