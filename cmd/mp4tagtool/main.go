package main

import (
	"flag"
	"log"
	"os"

	"ktkr.us/pkg/fmtutil"
	"ktkr.us/pkg/tagbox"
	"ktkr.us/pkg/tagbox/mp4"
)

var (
	title    = flag.String("title", "", "set the title")
	artist   = flag.String("artist", "", "set the artist")
	album    = flag.String("album", "", "set the album")
	genre    = flag.String("genre", "", "set the genre")
	position = flag.String("pos", "", "tag position on save: keep, front, back")
	padding  = flag.Int64("padding", 0, "preferred padding bytes on rewrite")
	rewrite  = flag.Bool("rewrite", false, "force a full rewrite")
)

func main() {
	log.SetFlags(0)
	flag.Parse()

	if flag.NArg() < 1 {
		log.Fatalf("usage: %s [flags] <mp4 filename>", os.Args[0])
	}

	f, err := mp4.Open(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	log.Printf("%s, %s, %d tracks", f.MajorBrand(), fmtutil.HMS(f.Duration()), len(f.Tracks()))
	for _, t := range f.Tracks() {
		log.Printf("track %d: %s %s lang=%s", t.ID, t.Handler, t.Format, t.Language)
	}

	edited := false
	for _, set := range []struct {
		field tagbox.KnownField
		val   string
	}{
		{tagbox.FieldTitle, *title},
		{tagbox.FieldArtist, *artist},
		{tagbox.FieldAlbum, *album},
		{tagbox.FieldGenre, *genre},
	} {
		if set.val != "" {
			f.Tag().SetValueByKnown(set.field, tagbox.Text(set.val))
			edited = true
		}
	}

	if edited || *rewrite {
		opts := mp4.SaveOptions{
			ForceRewrite:     *rewrite,
			PreferredPadding: *padding,
			MaxPadding:       *padding * 4,
		}
		switch *position {
		case "front":
			opts.TagPosition = mp4.PositionBeforeData
		case "back":
			opts.TagPosition = mp4.PositionAfterData
		}
		if err := f.Save(opts); err != nil {
			log.Fatal(err)
		}
	}

	tag := f.Tag()
	for _, field := range []tagbox.KnownField{
		tagbox.FieldTitle, tagbox.FieldAlbumArtist, tagbox.FieldArtist,
		tagbox.FieldAlbum, tagbox.FieldGenre, tagbox.FieldDiskPosition,
		tagbox.FieldTrackPosition, tagbox.FieldYear, tagbox.FieldComposer,
		tagbox.FieldComment,
	} {
		v := tag.ValueByKnown(field)
		if !v.IsEmpty() {
			log.Printf("%-12s %q", field, v.Text())
		}
	}

	for _, n := range f.Notifications() {
		log.Printf("%s: %s (%s)", n.Severity, n.Message, n.Context)
	}
}
