package hub

var adjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"golden", "silver", "crimson", "emerald", "purple", "amber", "rusty", "misty", "bright", "gentle",
	"brave", "calm", "swift", "quiet", "noisy", "bouncy", "fuzzy", "plucky", "merry", "peppy",
}

var animals = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"lynx", "heron", "badger", "marmot", "lemur", "raccoon", "walrus", "gecko", "beaver", "seahorse",
	"dolphin", "whale", "narwhal", "penguin", "flamingo", "pelican", "sparrow", "robin", "toucan", "parrot",
}

var dishes = []string{
	"pancake", "waffle", "sushi", "ramen", "curry", "taco", "burrito", "biryani", "paella", "risotto",
	"lasagna", "pizza", "bagel", "salad", "soup", "stew", "dumpling", "noodle", "omelette", "quiche",
	"kebab", "shawarma", "fondue", "pierogi", "gnocchi", "falafel", "samosa", "poutine", "dimsum", "crepe",
}
