// Package namegen 生成 name.surname 形式的随机邮箱本地部分。
package namegen

import (
	"fmt"
	"math/rand/v2"
)

var firstNames = []string{
	"alice", "amber", "anna", "ben", "bruno", "carla", "chris", "clara",
	"david", "diana", "elena", "emil", "erik", "felix", "flora", "george",
	"hanna", "hugo", "iris", "ivan", "jack", "julia", "karl", "kate",
	"leo", "lily", "marco", "mia", "nick", "nina", "oscar", "paula",
	"quinn", "rosa", "sam", "sofia", "tom", "vera", "will", "zoe",
}

var lastNames = []string{
	"adams", "baker", "bell", "brooks", "carter", "clark", "cole", "cruz",
	"dean", "dunn", "ellis", "evans", "fox", "gray", "hale", "hart",
	"hayes", "hill", "holt", "james", "kane", "lane", "lee", "long",
	"mason", "mills", "moss", "nash", "page", "park", "quinn", "reed",
	"rhodes", "stone", "tate", "vance", "walsh", "ward", "west", "york",
}

// Generate 生成一个随机的 name.surname 本地部分，
// 末尾附两位数字降低撞名概率。
func Generate() string {
	first := firstNames[rand.IntN(len(firstNames))]
	last := lastNames[rand.IntN(len(lastNames))]
	return fmt.Sprintf("%s.%s%02d", first, last, rand.IntN(100))
}
