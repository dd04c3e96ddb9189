package counter

import (
	"sync"
	"testing"
)

func TestCountUp(t *testing.T) {

	c := New()

	if c.Read() != 0 {
		t.Error("Counter did not initialise correctly")
	}

	for j := 0; j < 2; j++ {

		iterations := 1000

		for i := 0; i < iterations; i++ {
			c.Increment()
			if c.Read() != i+1 {
				t.Error("Counter did not increment correctly")
			}

		}

		c.Reset()
		if c.Read() != 0 {
			t.Error("Counter did not Reset correctly")
		}
	}

}

func TestAdd(t *testing.T) {

	c := New()

	c.Add(5)
	c.Add(0)
	c.Add(7)

	if c.Read() != 12 {
		t.Error("Counter did not add correctly")
	}
}

func TestCompetingWrites(t *testing.T) {

	c := New()

	iterations := 1000
	competingFuncs := 200

	var wg sync.WaitGroup
	wg.Add(competingFuncs)

	for j := 0; j < competingFuncs; j++ {
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				c.Increment()
			}
		}()
	}
	wg.Wait()

	if c.Read() != iterations*competingFuncs {
		t.Error("Locking failed, count was wrong")
	}

}
