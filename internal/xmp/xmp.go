// Package xmp reads the tag-like fields of an XMP packet.
package xmp

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

const (
	NamespaceRDF            = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	NamespaceDC             = "http://purl.org/dc/elements/1.1/"
	NamespaceXMP            = "http://ns.adobe.com/xap/1.0/"
	NamespaceLightroom      = "http://ns.adobe.com/lightroom/1.0/"
	NamespaceDigiKam        = "http://www.digikam.org/ns/1.0/"
	NamespaceMicrosoftPhoto = "http://ns.microsoft.com/photo/1.0/"
)

// ErrNoRDF is returned when the document holds no rdf:RDF element.
var ErrNoRDF = errors.New("no rdf:RDF element in XMP packet")

type rdfItems struct {
	Items []string `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# li"`
}

// rdfArray accepts any of the three RDF containers.
type rdfArray struct {
	Bag rdfItems `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# Bag"`
	Seq rdfItems `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# Seq"`
	Alt rdfItems `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# Alt"`
}

func (a rdfArray) items() []string {
	out := make([]string, 0, len(a.Bag.Items)+len(a.Seq.Items)+len(a.Alt.Items))
	out = append(out, a.Bag.Items...)
	out = append(out, a.Seq.Items...)
	return append(out, a.Alt.Items...)
}

type rdfDescription struct {
	Attrs               []xml.Attr `xml:",any,attr"`
	Subject             []rdfArray `xml:"http://purl.org/dc/elements/1.1/ subject"`
	HierarchicalSubject []rdfArray `xml:"http://ns.adobe.com/lightroom/1.0/ hierarchicalSubject"`
	TagsList            []rdfArray `xml:"http://www.digikam.org/ns/1.0/ TagsList"`
	LastKeywordXMP      []rdfArray `xml:"http://ns.microsoft.com/photo/1.0/ LastKeywordXMP"`
	Label               string     `xml:"http://ns.adobe.com/xap/1.0/ Label"`
}

type rdfRoot struct {
	Descriptions []rdfDescription `xml:"http://www.w3.org/1999/02/22-rdf-syntax-ns# Description"`
}

// Packet holds the raw keyword fields collected from every rdf:Description.
type Packet struct {
	// dc:subject
	Subject []string
	// lr:hierarchicalSubject, "|" separated
	HierarchicalSubject []string
	// digiKam:TagsList, "/" separated
	TagsList []string
	// MicrosoftPhoto:LastKeywordXMP, "/" separated
	LastKeywordXMP []string
	// xmp:Label
	Label string
}

// Parse reads an XMP document. The rdf:RDF element may sit inside an
// x:xmpmeta wrapper and xpacket processing instructions, or stand alone.
func Parse(r io.Reader) (*Packet, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil, ErrNoRDF
		}
		if err != nil {
			return nil, fmt.Errorf("read xmp: %w", err)
		}

		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Space != NamespaceRDF || start.Name.Local != "RDF" {
			continue
		}

		var root rdfRoot
		if err := dec.DecodeElement(&root, &start); err != nil {
			return nil, fmt.Errorf("decode rdf: %w", err)
		}
		return newPacket(root), nil
	}
}

func newPacket(root rdfRoot) *Packet {
	p := &Packet{}
	for _, d := range root.Descriptions {
		p.Subject = appendArrays(p.Subject, d.Subject)
		p.HierarchicalSubject = appendArrays(p.HierarchicalSubject, d.HierarchicalSubject)
		p.TagsList = appendArrays(p.TagsList, d.TagsList)
		p.LastKeywordXMP = appendArrays(p.LastKeywordXMP, d.LastKeywordXMP)

		if p.Label == "" {
			p.Label = normalize(d.Label)
		}
		if p.Label == "" {
			for _, a := range d.Attrs {
				if a.Name.Space == NamespaceXMP && a.Name.Local == "Label" {
					p.Label = normalize(a.Value)
					break
				}
			}
		}
	}
	return p
}

func appendArrays(dst []string, arrays []rdfArray) []string {
	for _, a := range arrays {
		dst = append(dst, a.items()...)
	}
	return dst
}

// Merge appends the fields of other, keeping p's label when set.
func (p *Packet) Merge(other *Packet) {
	if other == nil {
		return
	}
	p.Subject = append(p.Subject, other.Subject...)
	p.HierarchicalSubject = append(p.HierarchicalSubject, other.HierarchicalSubject...)
	p.TagsList = append(p.TagsList, other.TagsList...)
	p.LastKeywordXMP = append(p.LastKeywordXMP, other.LastKeywordXMP...)
	if p.Label == "" {
		p.Label = other.Label
	}
}

// normalize trims and collapses inner whitespace.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
