package lucene

import "testing"

func TestCodecForFallbackIsCached(t *testing.T) {
	c1 := CodecFor("SomeProprietaryKNN900Codec")
	c2 := CodecFor("SomeProprietaryKNN900Codec")
	if c1 != c2 {
		t.Fatalf("expected cached fallback codec instance, got distinct pointers")
	}
	if c1.StoredFields == nil {
		t.Fatalf("fallback codec must delegate stored fields to the base codec")
	}
}

func TestCodecForKnownNameReturnsRegistered(t *testing.T) {
	c := CodecFor("Lucene94")
	if c.Name != "Lucene94" {
		t.Fatalf("expected registered Lucene94 codec, got %s", c.Name)
	}
}
